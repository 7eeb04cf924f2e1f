// Package pipeline runs records through the ordered processing stages:
// intake, standardize, key, associate and project.
//
// Each stage has its own queue topic and a Driver that consumes it. A
// stage is a list of Interceptors; each returns exactly one Action:
//
//	Continue   hand the item to the next interceptor, then the next stage
//	Skip       end this stage, advance
//	Transform  replace the item, end this stage, advance
//	Defer      stop; re-enqueue on this stage after a delay
//	Retry      stop; re-enqueue with backoff until MaxAttempts, then park
//	Park       stop; move to the stage's parked holding area
//
// Defer and Retry are delayed re-enqueues, never sleeps: the worker is free
// for other items while one waits. Parked items are never resumed
// automatically; Reinject is the operator's way back in.
package pipeline
