// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package svcutil adapts plain functions to suture services and carries
// the error wrappers that control supervisor restarts.
package svcutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

const ServiceTimeout = 5 * time.Second

// FatalErr terminates the whole supervisor tree when returned from a
// service.
type FatalErr struct {
	Err    error
	Reason string
}

// AsFatalErr wraps err. An err that already is a *FatalErr is returned
// as is.
func AsFatalErr(err error, reason string) *FatalErr {
	var ferr *FatalErr
	if errors.As(err, &ferr) {
		return ferr
	}
	return &FatalErr{Err: err, Reason: reason}
}

func (e *FatalErr) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *FatalErr) Unwrap() error {
	return e.Err
}

func (e *FatalErr) Is(target error) bool {
	return target == suture.ErrTerminateSupervisorTree
}

// NoRestartErr wraps err (which may be nil) so that
// errors.Is(err, suture.ErrDoNotRestart) holds.
func NoRestartErr(err error) error {
	if err == nil {
		return suture.ErrDoNotRestart
	}
	return &noRestartErr{err}
}

type noRestartErr struct {
	err error
}

func (e *noRestartErr) Error() string {
	return e.err.Error()
}

func (e *noRestartErr) Unwrap() error {
	return e.err
}

func (e *noRestartErr) Is(target error) bool {
	return target == suture.ErrDoNotRestart
}

// Service is a suture.Service that reports its name in supervisor events.
type Service interface {
	suture.Service
	fmt.Stringer
}

// AsService wraps fn as a named suture.Service.
func AsService(fn func(ctx context.Context) error, name string) Service {
	return &service{name: name, serve: fn}
}

type service struct {
	name  string
	serve func(ctx context.Context) error
}

func (s *service) Serve(ctx context.Context) error {
	return s.serve(ctx)
}

func (s *service) String() string {
	return s.name
}

// Spec returns a supervisor spec that logs supervisor events at debug
// level, and service terminations and panics at warn.
func Spec(logger zerolog.Logger) suture.Spec {
	return suture.Spec{
		EventHook: func(e suture.Event) {
			ev := logger.Debug()
			switch e.Type() {
			case suture.EventTypeServiceTerminate, suture.EventTypeServicePanic, suture.EventTypeBackoff:
				ev = logger.Warn()
			}
			ev.Fields(e.Map()).Msg(e.String())
		},
		Timeout:                  ServiceTimeout,
		PassThroughPanics:        true,
		DontPropagateTermination: false,
	}
}
