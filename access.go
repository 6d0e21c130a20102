package airlock

import (
	"context"
	"sync"
)

// Operation classifies how a request touches records.
type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// OperationForMethod maps an HTTP method to the access operation: GET reads,
// everything else writes.
func OperationForMethod(method string) Operation {
	if method == "GET" {
		return OperationRead
	}
	return OperationWrite
}

// Verdict is the outcome of a resolver for one record: permit, deny, or
// replace with a transformed record.
type Verdict struct {
	Allow       bool
	Replacement *Record
}

// Permit allows the record through unchanged.
func Permit() Verdict {
	return Verdict{Allow: true}
}

// Deny removes the record from the payload.
func Deny() Verdict {
	return Verdict{}
}

// Replace substitutes the record with a transformed copy.
func Replace(rec Record) Verdict {
	return Verdict{Allow: true, Replacement: &rec}
}

// ResolverFunc gates a single record for an authenticated user. Returning an
// error counts as a denial for that record only and never aborts the request.
type ResolverFunc func(ctx context.Context, record Record, user Record) (Verdict, error)

// Resolver is a per-table access policy: either a single function applied to
// both operations, or a split read/write capability pair.
type Resolver struct {
	read  ResolverFunc
	write ResolverFunc
}

// SimpleResolver applies fn to reads and writes alike.
func SimpleResolver(fn ResolverFunc) Resolver {
	return Resolver{read: fn, write: fn}
}

// SplitResolver applies separate functions per operation. A nil side denies
// every record for that operation.
func SplitResolver(read, write ResolverFunc) Resolver {
	return Resolver{read: read, write: write}
}

func (r Resolver) fn(op Operation) ResolverFunc {
	if op == OperationRead {
		return r.read
	}
	return r.write
}

// RestrictColumns wraps a resolver so that permitted or transformed records
// come back with the named columns removed.
func RestrictColumns(resolver Resolver, columns ...string) Resolver {
	wrap := func(fn ResolverFunc) ResolverFunc {
		if fn == nil {
			return nil
		}
		return func(ctx context.Context, record Record, user Record) (Verdict, error) {
			verdict, err := fn(ctx, record, user)
			if err != nil || !verdict.Allow {
				return verdict, err
			}
			if verdict.Replacement != nil {
				record = *verdict.Replacement
			}
			return Replace(record.WithoutFields(columns...)), nil
		}
	}
	return Resolver{read: wrap(resolver.read), write: wrap(resolver.write)}
}

// AccessFilterEngine applies per-table resolvers to every record in a
// payload. Records are evaluated concurrently and reassembled in original
// order; a missing resolver permits the whole payload.
type AccessFilterEngine struct {
	resolvers map[string]Resolver
	logger    Logger
}

func NewAccessFilterEngine(resolvers map[string]Resolver, logger Logger) *AccessFilterEngine {
	if logger == nil {
		logger = defLogger{}
	}
	if resolvers == nil {
		resolvers = map[string]Resolver{}
	}
	return &AccessFilterEngine{resolvers: resolvers, logger: logger}
}

// HasResolver reports whether a table has a registered access policy.
func (e *AccessFilterEngine) HasResolver(table string) bool {
	_, registered := e.resolvers[table]
	return registered
}

// FilterDoc evaluates the resolver for table against every record in a
// decoded payload. The returned document keeps the payload's original shape:
// a multi-record document keeps its top-level keys with a filtered "records"
// array; a bare record comes back as a record document, or nil when denied.
func (e *AccessFilterEngine) FilterDoc(ctx context.Context, table string, op Operation, doc map[string]any, user Record) (any, error) {
	if doc == nil {
		return nil, nil
	}

	resolver, registered := e.resolvers[table]
	if !registered {
		e.logger.Warn("no access resolver defined for table %q, permitting by default", table)
		return doc, nil
	}

	records, multiple := recordsFromDoc(doc)

	filtered := e.filterRecords(ctx, table, resolver.fn(op), records, user)

	if multiple {
		docs := make([]any, 0, len(filtered))
		for _, rec := range filtered {
			docs = append(docs, recordToDoc(rec))
		}
		doc["records"] = docs
		return doc, nil
	}

	if len(filtered) == 0 {
		return nil, nil
	}
	return recordToDoc(filtered[0]), nil
}

// FilterRecords applies the table's resolver to a record slice directly,
// used on the request path where records are already normalized.
func (e *AccessFilterEngine) FilterRecords(ctx context.Context, table string, op Operation, records []Record, user Record) []Record {
	resolver, registered := e.resolvers[table]
	if !registered {
		e.logger.Warn("no access resolver defined for table %q, permitting by default", table)
		return records
	}
	return e.filterRecords(ctx, table, resolver.fn(op), records, user)
}

// filterRecords fans out one goroutine per record and joins before
// reassembly. The result slice is indexed by the input position so order
// survives the concurrent evaluation.
func (e *AccessFilterEngine) filterRecords(ctx context.Context, table string, fn ResolverFunc, records []Record, user Record) []Record {
	if fn == nil {
		e.logger.Warn("resolver for table %q has no function for this operation, denying records", table)
		return nil
	}

	results := make([]*Record, len(records))
	var wg sync.WaitGroup

	for i := range records {
		wg.Add(1)
		go func(idx int, rec Record) {
			defer wg.Done()
			verdict, err := fn(ctx, rec, user)
			if err != nil {
				// a throwing resolver denies this record only
				e.logger.Debug("access resolver error on %s/%s, denying record: %v", table, rec.ID, err)
				return
			}
			if !verdict.Allow {
				e.logger.Debug("access resolver denied %s/%s", table, rec.ID)
				return
			}
			if verdict.Replacement != nil {
				rec = *verdict.Replacement
			}
			results[idx] = &rec
		}(i, records[i])
	}
	wg.Wait()

	filtered := make([]Record, 0, len(records))
	for _, rec := range results {
		if rec == nil {
			continue
		}
		// a record must retain a non-empty field map to stay in the output
		if len(rec.Fields) == 0 {
			continue
		}
		filtered = append(filtered, *rec)
	}
	return filtered
}
