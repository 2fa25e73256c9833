package worker

import "github.com/hbomb79/Siphon/pkg/logger"

var workerLogger = logger.Get("Worker")

type WorkerWakeupChan chan int
type WorkerStatus int

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

// Task is the unit of work a worker executes repeatedly. The boolean
// return indicates whether any work was actually performed; a worker
// whose task reports no work will go back to sleep until woken.
type Task func(Worker) (bool, error)

type Worker interface {
	Start()
	Status() WorkerStatus
	WakeupChan() WorkerWakeupChan
	Label() string
	Sleep() bool
	Close()
}

type taskWorker struct {
	label         string
	task          Task
	wakeupChan    WorkerWakeupChan
	currentStatus WorkerStatus
}

func NewWorker(label string, task Task) *taskWorker {
	return &taskWorker{
		label,
		task,
		make(WorkerWakeupChan),
		Sleeping,
	}
}

// Start runs the workers task in a loop. Each time the task reports
// that no work was available, the worker sleeps until it's woken via
// the wakeup channel. A closed wakeup channel terminates the loop.
// Task errors are logged and do not stop the worker.
func (worker *taskWorker) Start() {
	workerLogger.Emit(logger.NEW, "Starting worker with label %v\n", worker.label)
	worker.currentStatus = Working

	for {
		didWork, err := worker.task(worker)
		if err != nil {
			workerLogger.Emit(logger.ERROR, "Worker with label %v has reported an error(%T): %v\n", worker.label, err, err.Error())
		}

		if !didWork {
			if !worker.Sleep() {
				return
			}
		}
	}
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return worker.currentStatus
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

// Close closes the Worker by closing the WakeChan.
// Note that this does not interupt a currently running task.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}

// Sleep puts a worker to sleep until it's wakeupChan is
// signalled from another goroutine. Returns a boolean that
// is 'false' if the wakeup channel was closed - indicating
// the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.currentStatus = Sleeping

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus = Working
	} else {
		workerLogger.Emit(logger.STOP, "Wakeup channel for worker '%v' has been closed - worker is exiting\n", worker.label)
		worker.currentStatus = Finished
	}

	return isAlive
}
