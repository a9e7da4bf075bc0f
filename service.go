// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package mupnp

import (
	"context"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// A RenewalService keeps registered port mappings alive by re-adding them
// before their lease runs out. It implements suture.Service and is meant
// to run under a supervisor for the lifetime of the process.
type RenewalService struct {
	client *Client
	lease  time.Duration

	immediate chan chan struct{}
	timer     *time.Timer

	mut      sync.Mutex
	mappings []*renewedMapping
}

type renewedMapping struct {
	spec    MappingSpec
	expires time.Time
}

var _ suture.Service = (*RenewalService)(nil)

// NewRenewalService returns a service renewing mappings on the given
// client with the given lease duration.
func NewRenewalService(client *Client, lease time.Duration) *RenewalService {
	if lease <= 0 {
		lease = 30 * time.Minute
	}
	return &RenewalService{
		client:    client,
		lease:     lease,
		immediate: make(chan chan struct{}),
		timer:     time.NewTimer(time.Second),
	}
}

// Add registers a mapping to be created and kept alive. The first attempt
// happens on the next renewal pass; call Sync to force one.
func (s *RenewalService) Add(spec MappingSpec) {
	spec.LeaseDuration = s.lease
	s.mut.Lock()
	s.mappings = append(s.mappings, &renewedMapping{spec: spec})
	s.mut.Unlock()
}

// Remove deletes the mapping from the gateway and stops renewing it.
func (s *RenewalService) Remove(ctx context.Context, externalPort int, protocol Protocol) error {
	s.mut.Lock()
	kept := s.mappings[:0]
	for _, m := range s.mappings {
		if m.spec.ExternalPort != externalPort || m.spec.Protocol != protocol {
			kept = append(kept, m)
		}
	}
	s.mappings = kept
	s.mut.Unlock()

	return s.client.DeletePortMapping(ctx, externalPort, protocol)
}

// Serve runs the renewal loop until the context is cancelled.
func (s *RenewalService) Serve(ctx context.Context) error {
	s.timer.Reset(0)

	for {
		select {
		case result := <-s.immediate:
			s.process(ctx)
			close(result)
		case <-s.timer.C:
			s.process(ctx)
		case <-ctx.Done():
			s.timer.Stop()
			return ctx.Err()
		}
	}
}

// Sync forces a renewal pass and waits for it to complete.
func (s *RenewalService) Sync() {
	wait := make(chan struct{})
	s.immediate <- wait
	<-wait
}

func (s *RenewalService) String() string {
	return "mupnp.RenewalService"
}

func (s *RenewalService) process(ctx context.Context) {
	// Renew everything due, then sleep until the earliest remaining
	// expiry. Renewals happen at half the lease to leave room for a
	// failed attempt.
	renewIn := s.lease / 2

	now := time.Now()
	var toRenew []*renewedMapping
	s.mut.Lock()
	for _, mapping := range s.mappings {
		if mapping.expires.Before(now.Add(s.lease / 2)) {
			toRenew = append(toRenew, mapping)
		} else if in := mapping.expires.Sub(now) - s.lease/2; in < renewIn {
			renewIn = in
		}
	}
	s.mut.Unlock()

	for _, mapping := range toRenew {
		if err := s.client.AddPortMapping(ctx, mapping.spec); err != nil {
			l.Infof("Renewing %s mapping for port %d: %v", mapping.spec.Protocol, mapping.spec.ExternalPort, err)
			continue
		}
		l.Debugf("Renewed %s mapping for port %d", mapping.spec.Protocol, mapping.spec.ExternalPort)
		s.mut.Lock()
		mapping.expires = time.Now().Add(s.lease)
		s.mut.Unlock()
	}

	s.timer.Reset(renewIn)
}

// Supervised wraps the service in a single-service suture supervisor, for
// callers that do not run a supervision tree of their own.
func (s *RenewalService) Supervised() *suture.Supervisor {
	sup := suture.New("mupnp", suture.Spec{
		PassThroughPanics: true,
	})
	sup.Add(s)
	return sup
}
