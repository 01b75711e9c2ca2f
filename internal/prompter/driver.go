package prompter

import (
	"context"
	"errors"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// InputConfig configures one prompt.
type InputConfig struct {
	Message string
	Default string
	Help    string
}

// Driver abstracts the terminal so prompting can be tested without one.
type Driver interface {
	Input(ctx context.Context, cfg InputConfig) (string, error)
	Password(ctx context.Context, cfg InputConfig) (string, error)
	TextArea(ctx context.Context, cfg InputConfig) (string, error)
}

type surveyDriver struct{}

// SurveyDriver returns the interactive terminal driver.
func SurveyDriver() Driver {
	return surveyDriver{}
}

func (surveyDriver) Input(ctx context.Context, cfg InputConfig) (string, error) {
	return ask(ctx, &survey.Input{Message: cfg.Message, Help: cfg.Help, Default: cfg.Default})
}

func (surveyDriver) Password(ctx context.Context, cfg InputConfig) (string, error) {
	return ask(ctx, &survey.Password{Message: cfg.Message, Help: cfg.Help})
}

func (surveyDriver) TextArea(ctx context.Context, cfg InputConfig) (string, error) {
	return ask(ctx, &survey.Multiline{Message: cfg.Message, Help: cfg.Help, Default: cfg.Default})
}

func ask(ctx context.Context, prompt survey.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	if err := survey.AskOne(prompt, &out); err != nil {
		return "", translateSurveyErr(err)
	}
	return out, nil
}

func translateSurveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return err
}
