// Package predict is the client side of the power regression model.
//
// The model is opaque: one row of eight panel features goes in, a gross
// power and a net rated power estimate come out.
package predict

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrPredictorUnavailable is returned when the model cannot be reached
	// or has failed too often recently.
	ErrPredictorUnavailable = errors.New("predictor unavailable")

	// ErrInvalidFeatures is returned for input outside the model's domain.
	ErrInvalidFeatures = errors.New("invalid features")
)

// Feed-in types offered by the model.
const (
	FullFeedIn    = "Full Feed-in"
	PartialFeedIn = "Partial Feed-in"
)

// Features is one input row. JSON names are the model's column names.
type Features struct {
	State                       string  `json:"State" validate:"required"`
	AdministrativeRegion        string  `json:"Administrative Region" validate:"required"`
	City                        string  `json:"City" validate:"required"`
	MainOrientation             string  `json:"MainOrientation" validate:"required"`
	FeedInType                  string  `json:"FeedInType" validate:"oneof='Full Feed-in' 'Partial Feed-in'"`
	AssignedActivePowerInverter float64 `json:"AssignedActivePowerInverter" validate:"gte=0,lte=30"` // kW
	Location                    string  `json:"Location" validate:"required"`
	NumberOfModules             int     `json:"NumberOfModules" validate:"min=1,max=110"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every field outside the model's domain.
func (f Features) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate features")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.Wrap(ErrInvalidFeatures, strings.Join(msgs, "; "))
}

// Estimate is the model output, both in MW.
type Estimate struct {
	GrossPower    float64
	NetRatedPower float64
}

// Predictor estimates power for one feature row.
type Predictor interface {
	Predict(ctx context.Context, f Features) (Estimate, error)
}

// Func adapts a function to Predictor.
type Func func(ctx context.Context, f Features) (Estimate, error)

func (fn Func) Predict(ctx context.Context, f Features) (Estimate, error) {
	return fn(ctx, f)
}
