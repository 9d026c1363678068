// Package params declares node parameters and gates runtime changes to them.
//
// Parameters are declared once at startup with a default, an access mode and
// optional constraints:
//
//	fps := params.Declare(store, "general.grab_frame_rate", 30, params.ReadOnly,
//	    params.Range(15, 120), params.Describe("grab frame rate"))
//
// An override loaded from the configuration file replaces the default when it
// has the right type and passes validation; otherwise a warning is logged and
// the default is used.
//
// The current values live in an immutable Set published through a state
// cell. A Gate applies change batches all-or-nothing: every change is
// validated before a new Set replaces the old one, so readers observe either
// the complete old set or the complete new set.
package params
