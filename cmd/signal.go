package main

import (
	"os"
	"os/signal"
	"syscall"
)

var (
	interruptChannel       = make(chan os.Signal, 1)
	addHandlerChannel      = make(chan func())
	interruptHandlersDone  = make(chan struct{})
	shutdownRequestChannel = make(chan struct{})
)

func init() {
	signal.Notify(interruptChannel, os.Interrupt, syscall.SIGTERM)
	go mainInterruptHandler()
}

// mainInterruptHandler runs the registered handlers in reverse order on the first interrupt
// or shutdown request, then closes interruptHandlersDone.
func mainInterruptHandler() {
	var handlers []func()
	invokeHandlers := func() {
		for i := len(handlers) - 1; i >= 0; i-- {
			handlers[i]()
		}
		close(interruptHandlersDone)
	}

	for {
		select {
		case <-interruptChannel:
			signal.Stop(interruptChannel)
			invokeHandlers()
			return
		case <-shutdownRequestChannel:
			invokeHandlers()
			return
		case handler := <-addHandlerChannel:
			handlers = append(handlers, handler)
		}
	}
}

func addInterruptHandler(handler func()) {
	addHandlerChannel <- handler
}

// requestShutdown runs the interrupt handlers as if the process had been interrupted.
func requestShutdown() {
	select {
	case shutdownRequestChannel <- struct{}{}:
	case <-interruptHandlersDone:
	}
}
