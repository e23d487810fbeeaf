package service

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"habitflow/internal/api"
	"habitflow/internal/model"
)

func validateCreateGoal(input api.CreateGoalInput) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&input.Type, validation.Required,
			validation.In(model.GoalCumulative, model.GoalFrequency, model.GoalOnetime)),
		// cumulative and frequency goals need a positive target; onetime
		// goals have no meaningful target value
		validation.Field(&input.TargetValue, validation.When(input.Type != model.GoalOnetime,
			validation.Required, validation.Min(0.0).Exclusive())),
	)
}

func validateManualLogValue(value float64) error {
	return validation.Validate(value, validation.Required, validation.Min(0.0).Exclusive())
}

func validateGoalPatch(patch api.GoalPatch) error {
	if patch.TargetValue != nil {
		if err := validation.Validate(*patch.TargetValue, validation.Min(0.0).Exclusive()); err != nil {
			return err
		}
	}
	if patch.Title != nil {
		if err := validation.Validate(*patch.Title, validation.Required, validation.Length(1, 200)); err != nil {
			return err
		}
	}
	return nil
}
