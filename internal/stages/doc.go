// Package stages provides the built-in interceptors for each pipeline stage.
//
//	intake       envelope and payload validation, audit persistence
//	standardize  NFC normalization and whitespace trimming of payload strings
//	key          aggregation key and business key extraction
//	associate    key resolution; rejections are recorded, published and parked
//	project      projection scheduling for the resolved reference
//
// Built-ins run before any interceptors registered for the same stage.
package stages
