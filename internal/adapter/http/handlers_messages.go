package adapthttp

import (
	"net/http"

	"chatservice/internal/domain"
)

type sendRequest struct {
	RecipientID int64  `json:"recipient_id" validate:"required"`
	Content     string `json:"content" validate:"min=1,max=2000"`
}

type historyQuery struct {
	PeerID int64 `json:"peer_id" validate:"required"`
	Limit  int64 `json:"limit" validate:"min=1,max=100"`
	Offset int64 `json:"offset" validate:"min=0"`
}

type messagesPage struct {
	Messages []domain.Message `json:"messages"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
	Total    *int64           `json:"total"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sendRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.messages.Send(r.Context(), currentUser(r).ID, req.RecipientID, req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var q historyQuery
	var err error
	if q.PeerID, err = intQuery(r, "peer_id", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit, err = intQuery(r, "limit", 5); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Offset, err = intQuery(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validationError(validate.Struct(&q)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.messages.History(r.Context(), currentUser(r).ID, q.PeerID, int(q.Limit), int(q.Offset))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesPage{
		Messages: page.Messages,
		Limit:    page.Limit,
		Offset:   page.Offset,
		Total:    page.Total,
	})
}
