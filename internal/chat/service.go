package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"supportbot/internal/models"
	"supportbot/internal/rag/pipeline"
	"supportbot/internal/rag/schema"
	"supportbot/internal/rag/vectorstore"
	"supportbot/internal/store"
	"supportbot/pkg/logger"
)

// FallbackAnswer is returned when answer generation fails. Generation
// failures never surface as request failures; only the data tier does.
const FallbackAnswer = "I apologize, but I'm having trouble processing your request. Please try again later."

// historyWindow is how many recent turns are folded into the retrieval
// query. Folding recent conversation in keeps follow-up questions ("what
// about the Model Y?") retrievable at the cost of some topical drift; the
// raw query alone would lose the referent.
const historyWindow = 6

// maxTitleLen bounds the session title derived from the first query.
const maxTitleLen = 64

// SessionStore is the subset of the session adapter the responder needs.
type SessionStore interface {
	GetActiveSession(ctx context.Context, userID uint) (*models.Session, error)
	CreateSession(ctx context.Context, userID uint, title string) (*models.Session, error)
	UpdateHistory(ctx context.Context, sessionID uint, turns []models.Turn) error
}

// IndexProvider yields the current vector index handle. The handle may be
// nil before initialization completes; the responder then answers without
// retrieved context.
type IndexProvider interface {
	Store() *vectorstore.Store
}

// Source identifies a retrieved passage returned alongside the answer.
type Source struct {
	File  string `json:"file"`
	Page  string `json:"page"`
	Score string `json:"score"`
}

// Result is the outcome of answering one query.
type Result struct {
	SessionID uint          `json:"session_id"`
	Answer    string        `json:"answer"`
	History   []models.Turn `json:"history"`
	Sources   []Source      `json:"sources"`
}

// Service is the retrieval-augmented responder: it maintains the user's
// session history, retrieves relevant passages, and generates an answer.
type Service struct {
	index     IndexProvider
	retrieval *pipeline.RetrievalPipeline
	qa        *pipeline.QAPipeline
	sessions  SessionStore
	topK      int
	fetchK    int
	log       *logger.Logger

	// userLocks serializes concurrent queries from the same user so
	// session-history appends are never lost to a racing writer.
	userLocks sync.Map
}

// NewService creates a new responder.
func NewService(
	index IndexProvider,
	retrieval *pipeline.RetrievalPipeline,
	qa *pipeline.QAPipeline,
	sessions SessionStore,
	topK, fetchK int,
	log *logger.Logger,
) *Service {
	return &Service{
		index:     index,
		retrieval: retrieval,
		qa:        qa,
		sessions:  sessions,
		topK:      topK,
		fetchK:    fetchK,
		log:       log,
	}
}

// Answer handles one query for the user: it appends the user's turn to the
// active session (creating one if absent), retrieves the top-k passages,
// generates an answer — substituting FallbackAnswer on generation failure —
// and persists the updated history. Session-store errors propagate.
func (s *Service) Answer(ctx context.Context, userID uint, query string) (*Result, error) {
	lock := s.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessions.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session, err = s.sessions.CreateSession(ctx, userID, truncate(query, maxTitleLen))
		if err != nil {
			return nil, err
		}
		s.log.Info(fmt.Sprintf("Created session %d for user %d", session.ID, userID))
	}

	turns, err := store.DecodeHistory(session.History)
	if err != nil {
		return nil, err
	}
	turns = append(turns, models.Turn{
		Role:      models.RoleUser,
		Content:   query,
		Timestamp: time.Now(),
	})

	passages := s.retrieve(ctx, turns)

	answer, err := s.qa.Run(ctx, query, passages, turns[:len(turns)-1])
	if err != nil {
		s.log.Warn(fmt.Sprintf("Answer generation failed, using fallback: %v", err))
		answer = FallbackAnswer
	}

	turns = append(turns, models.Turn{
		Role:      models.RoleAssistant,
		Content:   answer,
		Timestamp: time.Now(),
	})
	if err := s.sessions.UpdateHistory(ctx, session.ID, turns); err != nil {
		return nil, err
	}

	return &Result{
		SessionID: session.ID,
		Answer:    answer,
		History:   turns,
		Sources:   toSources(passages),
	}, nil
}

// retrieve runs the similarity search for the conversation's current state.
// Retrieval failures degrade to an empty context rather than failing the
// request; the generation fallback covers the rest.
func (s *Service) retrieve(ctx context.Context, turns []models.Turn) []*schema.Document {
	st := s.index.Store()
	if st == nil {
		s.log.Warn("Vector index not initialized, answering without context")
		return nil
	}

	passages, err := s.retrieval.Run(ctx, st, retrievalQuery(turns), s.topK, s.fetchK)
	if err != nil {
		s.log.Warn(fmt.Sprintf("Retrieval failed, answering without context: %v", err))
		return nil
	}
	return passages
}

// retrievalQuery renders the last historyWindow turns, ending with the
// current query, as the text to embed for similarity search.
func retrievalQuery(turns []models.Turn) string {
	start := 0
	if len(turns) > historyWindow {
		start = len(turns) - historyWindow
	}

	var sb strings.Builder
	for i, turn := range turns[start:] {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
	}
	return sb.String()
}

func (s *Service) lockUser(userID uint) *sync.Mutex {
	lock, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func toSources(passages []*schema.Document) []Source {
	sources := make([]Source, len(passages))
	for i, doc := range passages {
		sources[i] = Source{
			File:  doc.Metadata[schema.MetadataKeyFileName],
			Page:  doc.Metadata[schema.MetadataKeyPageLabel],
			Score: doc.Metadata["score"],
		}
	}
	return sources
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
