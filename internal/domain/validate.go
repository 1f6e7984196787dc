package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Границы схемы коллекции posts.
const (
	TitleMinLen    = 3
	TitleMaxLen    = 500
	ContentMinLen  = 10
	ContentMaxLen  = 50000
	MaxTags        = 20
	MaxComments    = 1000
	CommentMaxLen  = 2000
	NicknameMinLen = 2
	NicknameMaxLen = 50
	MaxLikes       = 1_000_000
	TagNameMaxLen  = 50
)

// NormalizeTags удаляет пустые и дублирующиеся значения, сохраняя порядок.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}

// ValidateDraft проверяет черновик поста перед транзакцией.
func ValidateDraft(d PostDraft) error {
	if d.PostID <= 0 {
		return fmt.Errorf("%w: post_id должен быть положительным", ErrValidation)
	}
	if d.ChannelID <= 0 {
		return fmt.Errorf("%w: channel_id должен быть положительным", ErrValidation)
	}
	if err := validateText("title", d.Title, TitleMinLen, TitleMaxLen); err != nil {
		return err
	}
	if err := validateText("content", d.Content, ContentMinLen, ContentMaxLen); err != nil {
		return err
	}
	return validateTags(d.Tags)
}

// ValidatePost проверяет полный документ поста (вставка и замена в пакетах).
func ValidatePost(p Post) error {
	if p.PostID <= 0 {
		return fmt.Errorf("%w: post_id должен быть положительным", ErrValidation)
	}
	if p.ChannelID <= 0 {
		return fmt.Errorf("%w: channel_id должен быть положительным", ErrValidation)
	}
	if err := validateText("title", p.Title, TitleMinLen, TitleMaxLen); err != nil {
		return err
	}
	if err := validateText("content", p.Content, ContentMinLen, ContentMaxLen); err != nil {
		return err
	}
	if err := validateTags(p.Tags); err != nil {
		return err
	}
	if len(p.Comments) > MaxComments {
		return fmt.Errorf("%w: комментариев больше %d", ErrValidation, MaxComments)
	}
	for i, c := range p.Comments {
		if err := ValidateComment(c); err != nil {
			return fmt.Errorf("comments[%d]: %w", i, err)
		}
	}
	if err := validateStats(p.Stats); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at обязателен", ErrValidation)
	}
	if !p.UpdatedAt.IsZero() && p.UpdatedAt.Before(p.CreatedAt) {
		return fmt.Errorf("%w: created_at позже updated_at", ErrValidation)
	}
	return nil
}

// ValidateComment проверяет встроенный комментарий.
func ValidateComment(c Comment) error {
	if err := validateText("nickname", c.Nickname, NicknameMinLen, NicknameMaxLen); err != nil {
		return err
	}
	if err := validateText("text", c.Text, 1, CommentMaxLen); err != nil {
		return err
	}
	if c.LikesCount < 0 {
		return fmt.Errorf("%w: likes_count отрицательный", ErrValidation)
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("%w: у комментария нет created_at", ErrValidation)
	}
	return nil
}

func validateStats(s Stats) error {
	if s.Views < 0 || s.Likes < 0 || s.Shares < 0 {
		return fmt.Errorf("%w: счётчики stats не могут быть отрицательными", ErrValidation)
	}
	if s.Likes > MaxLikes {
		return fmt.Errorf("%w: likes больше %d", ErrValidation, MaxLikes)
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > MaxTags {
		return fmt.Errorf("%w: тегов больше %d", ErrValidation, MaxTags)
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" || utf8.RuneCountInString(tag) > TagNameMaxLen {
			return fmt.Errorf("%w: некорректный тег %q", ErrValidation, tag)
		}
		if _, ok := seen[tag]; ok {
			return fmt.Errorf("%w: тег %q повторяется", ErrValidation, tag)
		}
		seen[tag] = struct{}{}
	}
	return nil
}

func validateText(field, value string, lo, hi int) error {
	n := utf8.RuneCountInString(value)
	if n < lo || n > hi {
		return fmt.Errorf("%w: длина %s должна быть от %d до %d символов, получено %d", ErrValidation, field, lo, hi, n)
	}
	return nil
}
