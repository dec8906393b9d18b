// Package threadpool offers a fixed-size worker(goroutine) pool which decouples
// task submission from task execution through a single unbounded FIFO queue.
package threadpool
