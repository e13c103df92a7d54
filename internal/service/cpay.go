package service

import (
	"context"
	"errors"

	"github.com/lyhniupi1/flexgate/internal/store"
	"github.com/lyhniupi1/flexgate/protocol"
)

type cpayTotalResponse struct {
	Total   int               `json:"total"`
	Pending int               `json:"pending"`
	Handled int               `json:"handled"`
	Items   []store.CpayError `json:"items"`
}

type handleCpayErrorRequest struct {
	ID     string `json:"id"`
	Remark string `json:"remark"`
}

func (s *Service) queryCpayTotalError(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	items, err := s.store.ListCpayErrors(ctx)
	if err != nil {
		return nil, err
	}
	resp := cpayTotalResponse{Total: len(items), Items: items}
	for _, e := range items {
		if e.Handled {
			resp.Handled++
		}
	}
	resp.Pending = resp.Total - resp.Handled
	return resp, nil
}

func (s *Service) handleCpayError(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	var req handleCpayErrorRequest
	if err := env.DecodeBody(&req); err != nil {
		return nil, badRequest(err)
	}

	e, err := s.store.HandleCpayError(ctx, req.ID, req.Remark, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, &protocol.BusinessError{Code: CodeCpayErrorNotFound, Message: "no cpay error with id " + req.ID}
	case errors.Is(err, store.ErrAlreadyHandled):
		return nil, &protocol.BusinessError{Code: CodeCpayErrorAlreadyHandled, Message: "cpay error " + req.ID + " already handled"}
	case err != nil:
		return nil, err
	}
	return e, nil
}
