package worker

import "testing"

func TestCDPAttach_InitialStateIsDetached(t *testing.T) {
	attach := NewCDPAttach(nil)
	if _, attached := attach.Browser(); attached {
		t.Fatalf("expected a fresh CDPAttach to report not attached")
	}
}

func TestCDPAttach_DetachWithoutAttachIsNoop(t *testing.T) {
	attach := NewCDPAttach(nil)
	attach.Detach() // must not panic when never attached
	if _, attached := attach.Browser(); attached {
		t.Fatalf("expected still-detached state")
	}
}

func TestCDPAttach_AcquireReleaseCmdTracksBusyCount(t *testing.T) {
	attach := NewCDPAttach(nil)
	attach.state = stateAttached // simulate an already-attached worker

	attach.AcquireCmd()
	attach.AcquireCmd()
	if attach.activeCmds != 2 {
		t.Fatalf("expected 2 active commands, got %d", attach.activeCmds)
	}
	attach.ReleaseCmd()
	if attach.activeCmds != 1 {
		t.Fatalf("expected 1 active command after one release, got %d", attach.activeCmds)
	}
	attach.ReleaseCmd()
	if attach.activeCmds != 0 {
		t.Fatalf("expected 0 active commands after both released, got %d", attach.activeCmds)
	}
}

func TestCDPAttach_DeferredDetachWhileBusy(t *testing.T) {
	attach := NewCDPAttach(nil)
	attach.state = stateAttached
	attach.AcquireCmd()

	attach.Detach() // should defer: a command is in flight
	if attach.state != stateAttached {
		t.Fatalf("expected detach to be deferred while busy")
	}
	if !attach.detachPending {
		t.Fatalf("expected detachPending to be set")
	}

	attach.ReleaseCmd() // last command finishes, deferred detach should fire
	if attach.state != stateDetached {
		t.Fatalf("expected detach to complete once idle, got state %v", attach.state)
	}
}
