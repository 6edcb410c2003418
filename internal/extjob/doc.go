// Package extjob runs out-of-process work for the pipeline: command-line
// tools, HTTP services, and long-lived helper processes.
//
// Runner.Run executes a Descriptor, streams combined output line by line, and
// treats a job as successful only when it exits zero and its Locator finds
// the artifact. Runner.Call validates 2xx service answers by size and content
// type before publishing them with an atomic rename. Neither retries.
package extjob
