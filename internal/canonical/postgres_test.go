package canonical

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "persona_id", "question", "answer_text", "source_escalation_id", "times_reused", "created_at"}

func TestPGStoreCreateInsertsWithZeroReuse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO canonical_answers")).
		WithArgs("a1", "chef", "Best knife?", pgxmock.AnyArg(), "A sharp one.", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPGStore(mock)
	a, err := store.Create(context.Background(), Answer{
		ID: "a1", PersonaID: "chef", Question: "Best knife?", AnswerText: "A sharp one.",
		QuestionEmbedding: []float32{0.1, 0.2}, TimesReused: 3, CreatedAt: created,
	})
	require.NoError(t, err)
	assert.Zero(t, a.TimesReused)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreNearestScansScores(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	src := "esc-1"
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("1 - (question_embedding <=> $2) AS score")).
		WithArgs("chef", pgxmock.AnyArg(), 2).
		WillReturnRows(pgxmock.NewRows(append(columns, "score")).
			AddRow("a1", "chef", "Best knife?", "A sharp one.", &src, int64(4), now, 0.97).
			AddRow("a2", "chef", "Best pan?", "Carbon steel.", &src, int64(0), now, 0.41))

	store := NewPGStore(mock)
	matches, err := store.Nearest(context.Background(), "chef", []float32{0.1, 0.2}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a1", matches[0].Answer.ID)
	assert.InDelta(t, 0.97, matches[0].Score, 1e-9)
	assert.EqualValues(t, 4, matches[0].Answer.TimesReused)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreRecordReuse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	src := "esc-1"
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	update := regexp.QuoteMeta("SET times_reused = times_reused + 1")
	mock.ExpectQuery(update).WithArgs("a1").
		WillReturnRows(pgxmock.NewRows(columns).AddRow("a1", "chef", "Best knife?", "A sharp one.", &src, int64(5), now))
	mock.ExpectQuery(update).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(update).WithArgs("a2").WillReturnError(errors.New("conn reset"))

	store := NewPGStore(mock)
	a, err := store.RecordReuse(context.Background(), "a1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, a.TimesReused)

	_, err = store.RecordReuse(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.RecordReuse(context.Background(), "a2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
