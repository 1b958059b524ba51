package service

import (
	"context"
	"crypto/rand"
	"fmt"

	"quizbattle/internal/model"
	"quizbattle/internal/repository"
)

// RoomService handles the lobby side of rooms: creation, listing, lookup.
type RoomService struct {
	rooms repository.RoomRepo
}

func NewRoomService(rooms repository.RoomRepo) *RoomService {
	return &RoomService{rooms: rooms}
}

// CreateRoom creates an empty room with a fresh code.
func (s *RoomService) CreateRoom(ctx context.Context, createdBy string) (*model.Room, error) {
	code, err := s.generateRoomCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate room code: %w", err)
	}

	room := &model.Room{
		Code:      code,
		CreatedBy: createdBy,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, code string) (*model.Room, error) {
	return s.rooms.GetByCode(ctx, code)
}

// ListAvailable returns rooms a player could still join.
func (s *RoomService) ListAvailable(ctx context.Context) ([]*model.Room, error) {
	return s.rooms.ListAvailable(ctx)
}

// generateRoomCode creates a 6-char code, avoiding ambiguous characters.
func (s *RoomService) generateRoomCode(ctx context.Context) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	const codeLen = 6

	for attempts := 0; attempts < 10; attempts++ {
		b := make([]byte, codeLen)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}

		code := make([]byte, codeLen)
		for i := range code {
			code[i] = chars[int(b[i])%len(chars)]
		}
		codeStr := string(code)

		existing, err := s.rooms.GetByCode(ctx, codeStr)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return codeStr, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique room code")
}
