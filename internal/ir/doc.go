// Package ir provides the core record types shared by every streampay package.
//
// This package contains type definitions and small value helpers only. All
// other internal packages import ir; ir imports nothing internal. This keeps
// the data model as the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - token amounts are 256-bit unsigned integers (Amount)
//   - Timestamps are unix seconds (int64); ordering of audit events uses seq, never time
//   - All JSON tags use snake_case
//   - Amounts serialise as base-10 strings so JSON consumers never lose precision
package ir
