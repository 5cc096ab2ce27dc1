// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import "github.com/cogbox/cogbox/pkg/errutil"

// Error codes attached to oops errors across the plugin lifecycle. The API
// layer maps them to HTTP statuses, so the set is part of the surface.
const (
	// CodeValidation marks rejection before any side effect: malformed
	// metadata, a reserved or duplicate name, an unsatisfied host
	// requirement.
	CodeValidation = "PLUGIN_VALIDATION_FAILED"

	// CodeLoad marks a failure while wiring a plugin in: route mounting,
	// event registration, or the plugin's own load hook.
	CodeLoad = "PLUGIN_LOAD_FAILED"

	// CodeRuntime marks a failure inside a loaded plugin: a panicking
	// route, a handler blowing up outside the bus's own accounting.
	CodeRuntime = "PLUGIN_RUNTIME_FAILED"

	// CodeUnload marks a failure during teardown. Teardown still runs to
	// completion; the code only classifies what gets reported.
	CodeUnload = "PLUGIN_UNLOAD_FAILED"

	// CodeNotFound marks a lookup for a plugin the manager does not hold.
	CodeNotFound = "PLUGIN_NOT_FOUND"
)

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool {
	return errutil.Code(err) == CodeValidation
}

// IsLoad reports whether err carries CodeLoad.
func IsLoad(err error) bool {
	return errutil.Code(err) == CodeLoad
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return errutil.Code(err) == CodeNotFound
}
