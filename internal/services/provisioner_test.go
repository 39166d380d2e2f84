package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"GOSAFE_BACK-END/internal/mirror"
)

// flakyChatTree fails writes under the selected root until healed.
type flakyChatTree struct {
	ChatTree
	mu   sync.Mutex
	fail string
}

func (f *flakyChatTree) failUnder(root string) {
	f.mu.Lock()
	f.fail = root
	f.mu.Unlock()
}

func (f *flakyChatTree) Put(ctx context.Context, p mirror.Path, v any) error {
	f.mu.Lock()
	fail := f.fail != "" && p[0] == f.fail
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.ChatTree.Put(ctx, p, v)
}

func TestCreateChatMirrorLeavesNoOrphan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tree := &flakyChatTree{ChatTree: h.bolt}
	prov := NewGroupProvisioner(h.store, tree, h.syncer)
	spec := GroupSpec{Name: "walk home", RequestID: 3, Members: []int64{7, 9}}

	tree.failUnder("groups")
	if _, err := prov.CreateChatMirror(ctx, 6, spec); !errors.Is(err, errInjected) {
		t.Fatalf("CreateChatMirror err = %v, want injected failure", err)
	}
	if ok, _ := h.bolt.Exists(ctx, mirror.Path{"chats"}); ok {
		t.Fatal("chat written although its pointer failed")
	}

	tree.failUnder("chats")
	if _, err := prov.CreateChatMirror(ctx, 5, spec); !errors.Is(err, errInjected) {
		t.Fatalf("CreateChatMirror err = %v, want injected failure", err)
	}
	var ptr chatPointer
	if err := h.bolt.Get(ctx, mirror.GroupChatPath(5), &ptr); err != nil || ptr.ChatID == "" {
		t.Fatalf("chat pointer = %+v, %v", ptr, err)
	}

	tree.failUnder("")
	id, err := prov.CreateChatMirror(ctx, 5, spec)
	if err != nil {
		t.Fatalf("retried CreateChatMirror: %v", err)
	}
	if id != ptr.ChatID {
		t.Errorf("chat id = %q, want the pointer's %q", id, ptr.ChatID)
	}
	var chat chatDoc
	if err := h.bolt.Get(ctx, mirror.ChatPath(id), &chat); err != nil {
		t.Fatalf("Get chat: %v", err)
	}
	if chat.GroupID != 5 || len(chat.Members) != 2 {
		t.Errorf("chat = %+v", chat)
	}

	if again, err := prov.CreateChatMirror(ctx, 5, spec); err != nil || again != id {
		t.Errorf("repeated CreateChatMirror = %q, %v", again, err)
	}
}
