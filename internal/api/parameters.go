package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/monocam/internal/params"
)

func (s *Server) registerParameterRoutes() {
	if s.options.Store == nil || s.options.Gate == nil {
		s.logger.Debug("Parameter store not available, skipping parameter routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-parameters",
		Method:      http.MethodGet,
		Path:        "/api/parameters",
		Summary:     "List Parameters",
		Description: "Every declared parameter with its access mode, constraints and current value",
		Tags:        []string{"parameters"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*ParametersResponse, error) {
		current := s.options.Store.Current()
		defs := s.options.Store.Definitions()

		resp := &ParametersResponse{}
		resp.Body.Parameters = make([]ParameterData, 0, len(defs))
		for _, d := range defs {
			v, _ := current.Value(d.Name)
			resp.Body.Parameters = append(resp.Body.Parameters, ParameterData{Definition: d, Value: v})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-parameters",
		Method:      http.MethodPut,
		Path:        "/api/parameters",
		Summary:     "Update Parameters",
		Description: "Apply a batch of dynamic parameter changes. Either every change is applied or none is.",
		Tags:        []string{"parameters"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422},
	}, func(_ context.Context, input *ParametersUpdateRequest) (*ParametersUpdateResponse, error) {
		res := s.options.Gate.ApplyBatch(input.Body.Changes)
		if details := rejectDetails(res); len(details) > 0 {
			return nil, huma.Error422UnprocessableEntity("parameter changes rejected", details...)
		}

		resp := &ParametersUpdateResponse{}
		resp.Body.Applied = res.Applied
		resp.Body.Changed = make([]string, 0, len(res.Results))
		for _, r := range res.Results {
			resp.Body.Changed = append(resp.Body.Changed, r.Name)
		}
		return resp, nil
	})
}

func rejectDetails(res params.BatchResult) []error {
	var details []error
	for i, r := range res.Results {
		if r.Err == nil {
			continue
		}
		msg := r.Err.Error()
		var rej *params.RejectError
		if errors.As(r.Err, &rej) {
			msg = rej.Reason.String()
			if rej.Err != nil {
				msg += ": " + rej.Err.Error()
			}
		}
		details = append(details, &huma.ErrorDetail{
			Location: fmt.Sprintf("body.changes[%d]", i),
			Message:  msg,
			Value:    r.Name,
		})
	}
	return details
}
