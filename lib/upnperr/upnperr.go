// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package upnperr maps UPnP fault codes to their standard descriptions.
package upnperr

import "fmt"

// Fault codes defined by the UPnP device architecture and the IGD
// WANIPConnection service description.
const (
	CodeInvalidArgs                      = 402
	CodeActionFailed                     = 501
	CodeSpecifiedArrayIndexInvalid       = 713
	CodeNoSuchEntryInArray               = 714
	CodeWildCardNotPermittedInSrcIP      = 715
	CodeWildCardNotPermittedInExtPort    = 716
	CodeConflictInMappingEntry           = 718
	CodeSamePortValuesRequired           = 724
	CodeOnlyPermanentLeasesSupported     = 725
	CodeRemoteHostOnlySupportsWildcard   = 726
	CodeExternalPortOnlySupportsWildcard = 727
)

var descriptions = map[int]string{
	CodeInvalidArgs:                      "Invalid Args",
	CodeActionFailed:                     "Action Failed",
	CodeSpecifiedArrayIndexInvalid:       "SpecifiedArrayIndexInvalid",
	CodeNoSuchEntryInArray:               "NoSuchEntryInArray",
	CodeWildCardNotPermittedInSrcIP:      "WildCardNotPermittedInSrcIP",
	CodeWildCardNotPermittedInExtPort:    "WildCardNotPermittedInExtPort",
	CodeConflictInMappingEntry:           "ConflictInMappingEntry",
	CodeSamePortValuesRequired:           "SamePortValuesRequired",
	CodeOnlyPermanentLeasesSupported:     "OnlyPermanentLeasesSupported",
	CodeRemoteHostOnlySupportsWildcard:   "RemoteHostOnlySupportsWildcard",
	CodeExternalPortOnlySupportsWildcard: "ExternalPortOnlySupportsWildcard",
}

// Describe returns the standard description for a UPnP fault code.
func Describe(code int) string {
	if desc, ok := descriptions[code]; ok {
		return desc
	}
	return fmt.Sprintf("Unknown Error: %d", code)
}

// A SOAPError is a fault returned by the gateway in response to an action.
// It means the gateway was reached and rejected the request, as opposed to a
// transport failure.
type SOAPError struct {
	Code int
	Desc string
}

// FromCode returns a SOAPError carrying the catalog description for code.
func FromCode(code int) *SOAPError {
	return &SOAPError{Code: code, Desc: Describe(code)}
}

func (e *SOAPError) Error() string {
	return fmt.Sprintf("UPnP error %d: %s", e.Code, e.Desc)
}
