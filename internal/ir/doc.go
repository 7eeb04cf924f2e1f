// Package ir provides the domain types shared by every canon package.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in payloads - use int64 for numbers
//   - Canonical JSON (RFC 8785) for everything hashed, stored as a document or compared
//   - All JSON tags use snake_case
//   - Arrival order is a store-assigned seq, never a wall-clock timestamp
package ir
