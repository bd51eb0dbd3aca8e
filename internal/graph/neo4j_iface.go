package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// resultIterator is the slice of neo4j.ResultWithContext the mirror
// consumes when draining write results.
type resultIterator interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// sessionRunner is what mirror writes need from a Bolt session: run one
// Cypher statement, then close. Narrowing the interface here keeps the
// sync path testable without a running Memgraph.
type sessionRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (resultIterator, error)
	Close(ctx context.Context) error
}

// sessionFactory opens a fresh sessionRunner per mirror operation.
type sessionFactory func(ctx context.Context) sessionRunner

// neo4jSessionAdapter narrows a live neo4j.SessionWithContext down to
// sessionRunner.
type neo4jSessionAdapter struct {
	session neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (resultIterator, error) {
	return a.session.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.session.Close(ctx)
}

// newNeo4jSessionFactory wraps a connected Bolt driver as a sessionFactory.
func newNeo4jSessionFactory(driver neo4j.DriverWithContext) sessionFactory {
	return func(ctx context.Context) sessionRunner {
		return &neo4jSessionAdapter{session: driver.NewSession(ctx, neo4j.SessionConfig{})}
	}
}
