package smartcard

import (
	"sync"
	"testing"
)

func TestService_ConcurrentChannels(t *testing.T) {
	backend := newMockBackend(1)
	svc := newTestService(t, backend)
	_, s := openTestSession(t, svc)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*3)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := svc.OpenLogicalChannel(s, nil, 0x00)
			if err != nil {
				errs <- err
				return
			}
			if _, err := svc.Transmit(c, []byte{0x00, 0x28, 0x00, 0x00}); err != nil {
				errs <- err
			}
			if err := svc.CloseChannel(c); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	svc.mu.Lock()
	open := len(svc.reg.openChannels(s.id))
	svc.mu.Unlock()
	if open != 0 {
		t.Errorf("%d channels left open", open)
	}
}

func TestService_ConcurrentBasicChannel(t *testing.T) {
	backend := newMockBackend(1)
	svc := newTestService(t, backend)
	_, s := openTestSession(t, svc)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.OpenBasicChannel(s, nil, 0x00)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	opened := 0
	for err := range results {
		switch CodeOf(err) {
		case OK:
			opened++
		case ErrChannelNotAvailable:
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if opened != 1 {
		t.Errorf("%d basic channels opened, want 1", opened)
	}
}

func TestService_ConcurrentLifecycle(t *testing.T) {
	backend := newMockBackend(1)
	svc := newTestService(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Initialize(); err != nil {
				t.Error(err)
				return
			}
			svc.Readers()
			if err := svc.Deinitialize(); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := svc.RefCount(); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}
	if backend.closeCalls != 0 {
		t.Error("backend released while a reference was held")
	}
}
