// Package store persists accounts and match outcomes in Postgres. It
// implements the identity and result-recording collaborators consumed by
// the ws and matchmaking layers; the realtime core never touches the
// database directly.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var ErrUsernameTaken = errors.New("username already taken")
var ErrNotFound = errors.New("not found")

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:32"`
	PasswordHash string
	Token        string `gorm:"uniqueIndex;size:64"` // ws connection credential
	Wins         int
	Losses       int
	CreatedAt    time.Time
}

type MatchResult struct {
	ID          uint `gorm:"primaryKey"`
	WinnerID    uint `gorm:"index"`
	LoserID     uint `gorm:"index"`
	WinnerScore int
	LoserScore  int
	Forfeit     bool
	PlayedAt    time.Time
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&User{}, &MatchResult{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// CreateUser registers an account and returns it with a fresh connection
// token. The password is stored as a bcrypt hash only.
func (s *Store) CreateUser(username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     username,
		PasswordHash: string(hash),
		Token:        newToken(),
	}
	if err := s.db.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return u, nil
}

// Authenticate checks a password and returns the user's connection token.
func (s *Store) Authenticate(username, password string) (*User, error) {
	var u User
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrNotFound
	}
	return &u, nil
}

// ResolveConnection maps a ws credential to a user identity. Implements
// the transport's IdentityResolver.
func (s *Store) ResolveConnection(token string) (userID, username string, ok bool) {
	var u User
	if err := s.db.Where("token = ?", token).First(&u).Error; err != nil {
		return "", "", false
	}
	return strconv.FormatUint(uint64(u.ID), 10), u.Username, true
}

// RecordMatchResult stores a finished match and bumps the win/loss
// counters. Fire-and-forget: failures are logged, never propagated back
// into the match pipeline.
func (s *Store) RecordMatchResult(winnerID, loserID string, winnerScore, loserScore int, forfeit bool) {
	wid, err1 := strconv.ParseUint(winnerID, 10, 64)
	lid, err2 := strconv.ParseUint(loserID, 10, 64)
	if err1 != nil || err2 != nil {
		s.log.Warn("match result with non-numeric ids",
			zap.String("winner", winnerID), zap.String("loser", loserID))
		return
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&MatchResult{
			WinnerID:    uint(wid),
			LoserID:     uint(lid),
			WinnerScore: winnerScore,
			LoserScore:  loserScore,
			Forfeit:     forfeit,
			PlayedAt:    time.Now(),
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&User{}).Where("id = ?", wid).
			UpdateColumn("wins", gorm.Expr("wins + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&User{}).Where("id = ?", lid).
			UpdateColumn("losses", gorm.Expr("losses + 1")).Error
	})
	if err != nil {
		s.log.Error("failed to record match result",
			zap.String("winner", winnerID),
			zap.String("loser", loserID),
			zap.Error(err))
	}
}

type LeaderboardEntry struct {
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

func (s *Store) Leaderboard(limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entries []LeaderboardEntry
	err := s.db.Model(&User{}).
		Select("username", "wins", "losses").
		Order("wins DESC, losses ASC, username ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// LookupUser finds a user by name, for status queries.
func (s *Store) LookupUser(username string) (*User, error) {
	var u User
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func newToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand only fails on a broken host
	}
	return hex.EncodeToString(b)
}
