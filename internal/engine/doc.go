// Package engine schedules batch transcription jobs. An admission controller
// bounds the backlog, a fixed pool of workers drains it in FIFO order, and a
// sweeper evicts finished jobs once they age out. Status transitions are
// fanned out to subscribers through a broker for real-time SSE.
package engine
