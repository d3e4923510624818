// Package config holds the ambient configuration of conntool: environment
// defaults parsed from CONNTOOL_* variables, and the optional pipeline
// configuration file passed with --config.
//
// The pipeline file is decoded with HCL, so it may be written either in
// native HCL syntax (.hcl) or in HCL's JSON syntax (.json). The JSON shape
// used by earlier tooling, {"smoothing": {"enabled": true, "fwhm": 6}}, is a
// valid pipeline file.
package config
