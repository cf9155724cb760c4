package core

import "sync"

// KillSwitch severs one party flow. Shutdown may be called any number of
// times from any goroutine; only the first call has an effect.
type KillSwitch struct {
	once sync.Once
	stop func()
	done chan struct{}
}

func newKillSwitch(stop func()) *KillSwitch {
	return &KillSwitch{
		stop: stop,
		done: make(chan struct{}),
	}
}

// Shutdown terminates the flow this switch guards.
func (k *KillSwitch) Shutdown() {
	k.once.Do(func() {
		close(k.done)
		if k.stop != nil {
			k.stop()
		}
	})
}

// Done is closed once the switch has fired.
func (k *KillSwitch) Done() <-chan struct{} {
	return k.done
}
