// Package configs provides embedded configuration templates for nescordsync.
//
// Templates are embedded at build time using Go's //go:embed directive, so
// they are available in all distributions:
//   - Source builds (go install)
//   - Binary releases
//
// The template is used by:
//   - cmd/nescordsync/cmd/config.go → creates ~/.config/nescordsync/config.yaml
//
// Configuration Hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/nescordsync/config.yaml)
//  3. Environment variables (NESCORDSYNC_*)
//
// To modify the template, edit the .yaml file in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user-level configuration.
// Created by: `nescordsync config init` at ~/.config/nescordsync/config.yaml
// Contains: data paths, sync tuning, search weights, embedding provider.
//
//go:embed config.example.yaml
var UserConfigTemplate string
