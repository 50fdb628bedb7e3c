// Package sandbox provides secure execution of untrusted JavaScript.
//
// The sandbox package implements the execution engine for running code
// produced by untrusted pipelines inside an embedded VM under resource
// limits. Two interchangeable isolation backends implement the
// SecureSandbox contract: a persistent worker that owns a long-lived VM
// behind a channel message protocol, and an ephemeral fallback that
// provisions a single-use VM per call.
//
// Every dispatch passes through the textual pre-filter (Sanitize), runs
// under a sampling monitor that aborts on time or memory violations,
// and ends in exactly one terminal outcome. Outcomes of the executed
// code, including limit violations, are reported as a non-error
// ExecutionResult; only protocol failures (busy instance, timeout,
// closed sandbox) surface as Go errors.
//
// Security model: the VM boundary is the isolation guarantee. The guest
// global scope exposes only a fixed allow-list of safe primitives plus
// the counted fetch bridge; it has no host bindings to escape through.
// The denylist sanitizer is best-effort and bypassable, kept strictly
// as defense in depth.
//
// Usage:
//
//	sb, err := sandbox.New(logger, sandbox.DefaultLimits(), sandbox.BackendWorker)
//	result, err := sb.ExecuteCode(ctx, "return 1+1", sandbox.ExecutionContext{})
package sandbox
