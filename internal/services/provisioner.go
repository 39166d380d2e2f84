package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

// GroupSpec describes the group formed when a companion is accepted.
type GroupSpec struct {
	Name      string
	RequestID int64
	Members   []int64
}

// Provisioner creates the group record and its realtime chat for an accepted companion.
type Provisioner interface {
	CreateGroup(ctx context.Context, spec GroupSpec) (int64, error)
	CreateChatMirror(ctx context.Context, groupID int64, spec GroupSpec) (string, error)
	DeleteChatMirror(ctx context.Context, groupID int64) error
}

// ChatTree is the mirror access the provisioner needs. *mirror.Bolt implements it.
type ChatTree interface {
	Put(ctx context.Context, p mirror.Path, v any) error
	Get(ctx context.Context, p mirror.Path, v any) error
}

type chatPointer struct {
	ChatID string `cbor:"chat_id"`
}

type chatDoc struct {
	ID        string    `cbor:"id"`
	GroupID   int64     `cbor:"group_id"`
	Name      string    `cbor:"name"`
	Members   []int64   `cbor:"members"`
	CreatedAt time.Time `cbor:"created_at"`
}

// GroupProvisioner writes groups to the backend and chats to the mirror.
type GroupProvisioner struct {
	store  repository.Store
	tree   ChatTree
	mirror Projector
	log    zerolog.Logger
}

func NewGroupProvisioner(store repository.Store, tree ChatTree, p Projector) *GroupProvisioner {
	return &GroupProvisioner{store: store, tree: tree, mirror: p, log: logging.For("provisioner")}
}

// CreateGroup stores the group and its members in one transaction, so a
// failure leaves nothing behind. It returns the existing group if one was
// already created for spec.RequestID.
func (g *GroupProvisioner) CreateGroup(ctx context.Context, spec GroupSpec) (int64, error) {
	if existing, err := g.store.FindGroupByRequest(ctx, spec.RequestID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return 0, err
	}

	reqID := spec.RequestID
	group := &models.Group{Name: spec.Name, CompanionRequestID: &reqID, Members: spec.Members}
	err := g.store.InTx(ctx, func(q repository.Queries) error {
		return q.InsertGroup(ctx, group)
	})
	if err != nil {
		return 0, fmt.Errorf("create group: %w", err)
	}
	g.log.Info().Int64(logging.GROUP, group.ID).Int64(logging.COMPANION, spec.RequestID).Msg("group created")
	return group.ID, nil
}

// CreateChatMirror writes the group's chat pointer, then /chats/{chatId}. The
// pointer goes first so a failed write never leaves a chat no group points to.
// A retry finishes a chat whose document is missing under the same id, and
// returns the existing id once both are written.
func (g *GroupProvisioner) CreateChatMirror(ctx context.Context, groupID int64, spec GroupSpec) (string, error) {
	var ptr chatPointer
	err := g.tree.Get(ctx, mirror.GroupChatPath(groupID), &ptr)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		return "", fmt.Errorf("read chat pointer: %w", err)
	}

	chatID := ptr.ChatID
	if chatID != "" {
		var existing chatDoc
		err := g.tree.Get(ctx, mirror.ChatPath(chatID), &existing)
		if err == nil {
			return chatID, nil
		}
		if !errors.Is(err, mirror.ErrNotFound) {
			return "", fmt.Errorf("read chat: %w", err)
		}
	} else {
		chatID = uuid.NewString()
		if err := g.tree.Put(ctx, mirror.GroupChatPath(groupID), chatPointer{ChatID: chatID}); err != nil {
			return "", fmt.Errorf("write chat pointer: %w", err)
		}
	}

	chat := chatDoc{
		ID:        chatID,
		GroupID:   groupID,
		Name:      spec.Name,
		Members:   spec.Members,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.tree.Put(ctx, mirror.ChatPath(chat.ID), chat); err != nil {
		return "", fmt.Errorf("write chat: %w", err)
	}
	g.log.Info().Int64(logging.GROUP, groupID).Str("chat_id", chat.ID).Msg("chat mirror created")
	return chat.ID, nil
}

// DeleteChatMirror removes the group's chat. A group without a chat is fine.
func (g *GroupProvisioner) DeleteChatMirror(ctx context.Context, groupID int64) error {
	var ptr chatPointer
	err := g.tree.Get(ctx, mirror.GroupChatPath(groupID), &ptr)
	if errors.Is(err, mirror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read chat pointer: %w", err)
	}
	muts := []mirror.Mutation{mirror.DeleteOp(mirror.GroupChatPath(groupID))}
	if ptr.ChatID != "" {
		muts = append([]mirror.Mutation{mirror.DeleteOp(mirror.ChatPath(ptr.ChatID))}, muts...)
	}
	return g.mirror.Apply(ctx, muts...)
}
