package graph

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/orm/store"
)

// Executor runs queries: it fetches store-backed fields in one call, then
// resolves the remaining selected resolvers in priority order, then
// backfills when enabled
type Executor struct {
	env *Env
}

// requirer is implemented by resolvers that read store-backed fields of
// their owner
type requirer interface {
	Requires() []string
}

type plan struct {
	fields   []string
	requests []Resolver
}

// Execute runs q and returns the resolved resources in store order
func (x *Executor) Execute(ctx context.Context, q *Query) (b *Batch, err error) {
	if q.err != nil {
		return nil, q.err
	}
	t := q.typ
	if err := t.ready(); err != nil {
		return nil, err
	}

	ctx, span := x.env.tracer.Start(ctx, "graph.execute", trace.WithAttributes(
		attribute.String("graph.type", t.Name()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("graph.count", b.Len()))
		}
		span.End()
	}()

	log := x.env.logger.With(zap.String("type", t.Name()))

	p, err := x.analyze(q)
	if err != nil {
		return nil, err
	}
	log.Debug("analyzed",
		zap.Strings("fields", p.fields),
		zap.Int("requests", len(p.requests)),
		zap.Stringer("query", q),
	)

	spec := q.spec
	recs, err := t.store.Query(ctx, store.Params{
		Where:   spec.Where,
		Fields:  p.fields,
		OrderBy: spec.OrderBy,
		Limit:   spec.Limit,
		Offset:  spec.Offset,
	})
	if err != nil {
		return nil, storeError("query", t, err)
	}
	b = t.NewBatch()
	for _, rec := range recs {
		b.items = append(b.items, t.fromRecord(rec))
	}
	log.Debug("fetched", zap.Int("count", b.Len()))

	if err := x.resolve(ctx, b, p.requests, q); err != nil {
		return nil, err
	}
	log.Debug("requests resolved", zap.Int("count", len(p.requests)))

	if q.backfill {
		n, err := x.backfill(ctx, q, b, p.requests)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			log.Debug("backfilled", zap.Int("count", n))
		}
	}
	return b, nil
}

// analyze splits the selection into store fields and resolver requests.
// Identity and revision are always fetched, as are fields read by the
// requested resolvers.
func (x *Executor) analyze(q *Query) (*plan, error) {
	t := q.typ
	p := &plan{}
	seen := make(map[string]bool)
	addField := func(name string) {
		if !seen[name] {
			seen[name] = true
			p.fields = append(p.fields, name)
		}
	}
	addField(t.schema.IDField)
	addField(t.schema.RevField)

	for _, name := range q.spec.Select {
		res, ok := t.resolvers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownResolver, t.Name(), name)
		}
		if t.IsField(name) {
			addField(name)
			continue
		}
		p.requests = append(p.requests, res)
		if rq, ok := res.(requirer); ok {
			for _, f := range rq.Requires() {
				addField(f)
			}
		}
	}
	p.requests = sortResolvers(t, p.requests)
	return p, nil
}

// resolve executes requests against b in the given order, each with its
// nested selection
func (x *Executor) resolve(ctx context.Context, b *Batch, requests []Resolver, q *Query) error {
	for _, res := range requests {
		req := &Request{
			Resolver: res,
			Spec:     q.spec.Child(res.Name()).Clone(),
			Backfill: q.backfill,
		}
		if err := x.resolveOne(ctx, b, req); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) resolveOne(ctx context.Context, b *Batch, req *Request) (err error) {
	ctx, span := x.env.tracer.Start(ctx, "graph.resolve", trace.WithAttributes(
		attribute.String("graph.type", b.typ.Name()),
		attribute.String("graph.resolver", req.Resolver.Name()),
		attribute.Int("graph.count", b.Len()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return ExecuteBatch(ctx, b, req)
}

// complete resolves the resolver selections of q on resources that did not
// come from the store, such as backfilled ones
func (x *Executor) complete(ctx context.Context, q *Query, b *Batch) error {
	if q.err != nil {
		return q.err
	}
	p, err := x.analyze(q)
	if err != nil {
		return err
	}
	return x.resolve(ctx, b, p.requests, q)
}

// backfill synthesizes resources until b holds the query's limit (default
// one), resolves the requests on them and appends them to b
func (x *Executor) backfill(ctx context.Context, q *Query, b *Batch, requests []Resolver) (int, error) {
	want := 1
	if q.spec.Limit != nil {
		want = *q.spec.Limit
	}
	if b.Len() >= want {
		return 0, nil
	}
	bf := x.env.backfiller
	if bf == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoBackfiller, q.typ.Name())
	}
	generated, err := bf.Backfill(ctx, q, b, want)
	if err != nil {
		return 0, err
	}
	extra := q.typ.NewBatch(generated...)
	if err := x.resolve(ctx, extra, requests, q); err != nil {
		return 0, err
	}
	if err := b.Append(extra.items...); err != nil {
		return 0, err
	}
	return extra.Len(), nil
}
