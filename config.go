package main

import "parlay/internal/config"

// Re-export types from the config sub-package so they are available as
// Wails-bound method return/parameter types in the main package.

// Config holds all persistent user preferences.
type Config = config.Config

// ServerConfig is the persisted connection endpoint.
type ServerConfig = config.ServerConfig

// VoiceQuality holds the persisted codec tuning knobs.
type VoiceQuality = config.VoiceQuality
