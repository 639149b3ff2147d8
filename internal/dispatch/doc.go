// Package dispatch launches browser-automation engine runs and reports their outcome.
//
// Each accepted trigger becomes one Job. The dispatcher checks the macro
// artifact, normalizes the reserved urlParams keys, spawns the engine with a
// structured argv (never a shell string), and watches the subprocess from a
// single monitor goroutine per job.
//
// Engine argv contract (appended after the engine's configured args):
//
//	<name> <outboundWebhook> <isFolder 0|1> <urlParams JSON> <newInstance 0|1> <timeoutSeconds>
//
// Outcome reporting depends on the engine:
//   - Self-reporting engines post to the outbound webhook themselves. The
//     dispatcher only classifies the run (stdout error markers) for logs,
//     events and Job.Wait.
//   - Non-reporting engines rely on the dispatcher. Completion (error, stdout,
//     stderr) and exit (code) arrive as two independent signals in either
//     order; a one-shot delivery guard makes sure exactly one error webhook is
//     posted when either signal observes a failure. Successful runs are only
//     posted when the engine's notify policy is "always".
//
// Exit code 3 (configurable per engine) means the engine found another
// browser instance already running; it is reported with a remediation message.
//
// The core enforces no timeout of its own: timeoutSeconds is forwarded to the
// engine. Operators can still stop a run with Terminate (SIGTERM, 5s grace,
// SIGKILL to the engine's process group).
package dispatch
