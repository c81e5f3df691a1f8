package monitor

import (
	"fmt"

	"github.com/JoanyBuclon/Space-Invader/internal/game"
	"github.com/go-playground/form/v4"
)

func newFormDecoder() *form.Decoder {
	decoder := form.NewDecoder()
	decoder.RegisterCustomTypeFunc(func(s []string) (interface{}, error) {
		if len(s) == 0 || s[0] == "" {
			return game.Status(""), nil
		}
		switch status := game.Status(s[0]); status {
		case game.StatusActive, game.StatusCompleted:
			return status, nil
		default:
			return nil, fmt.Errorf("invalid status %q", s[0])
		}
	}, game.Status(""))

	return decoder
}
