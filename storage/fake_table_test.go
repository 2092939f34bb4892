package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

type fakeRow struct {
	pk, rk string
	value  []byte
	etag   azcore.ETag
}

// fakeTable is an in-memory table supporting the filters built by Storage.
type fakeTable struct {
	mu        sync.Mutex
	rows      map[string]fakeRow
	version   int
	submits   int
	lastBatch []aztables.TransactionAction
	// beforeSubmit runs before a transaction is applied, e.g. to simulate a
	// concurrent writer.
	beforeSubmit func()
}

func newFakeTable() *fakeTable { return &fakeTable{rows: map[string]fakeRow{}} }

func responseError(code int) error {
	req := &http.Request{Method: http.MethodPost, URL: &url.URL{Scheme: "https", Host: "fake.table.core.windows.net", Path: "/"}}
	return &azcore.ResponseError{
		StatusCode:  code,
		ErrorCode:   http.StatusText(code),
		RawResponse: &http.Response{StatusCode: code, Status: strconv.Itoa(code) + " " + http.StatusText(code), Request: req, Header: http.Header{}},
	}
}

func keysOf(entity []byte) (string, string, error) {
	var k struct {
		PartitionKey string `json:"PartitionKey"`
		RowKey       string `json:"RowKey"`
	}
	if err := sonic.Unmarshal(entity, &k); err != nil {
		return "", "", err
	}
	return k.PartitionKey, k.RowKey, nil
}

func (f *fakeTable) nextETag() azcore.ETag {
	f.version++
	return azcore.ETag(fmt.Sprintf("W/\"%d\"", f.version))
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[pk+"|"+rk]
	if !ok {
		return aztables.GetEntityResponse{}, responseError(http.StatusNotFound)
	}
	return aztables.GetEntityResponse{ETag: row.etag, Value: append([]byte(nil), row.value...)}, nil
}

func (f *fakeTable) addLocked(entity []byte) (azcore.ETag, error) {
	pk, rk, err := keysOf(entity)
	if err != nil {
		return "", err
	}
	if _, ok := f.rows[pk+"|"+rk]; ok {
		return "", responseError(http.StatusConflict)
	}
	etag := f.nextETag()
	f.rows[pk+"|"+rk] = fakeRow{pk: pk, rk: rk, value: append([]byte(nil), entity...), etag: etag}
	return etag, nil
}

func (f *fakeTable) replaceLocked(entity []byte, ifMatch *azcore.ETag) (azcore.ETag, error) {
	pk, rk, err := keysOf(entity)
	if err != nil {
		return "", err
	}
	row, ok := f.rows[pk+"|"+rk]
	if !ok {
		return "", responseError(http.StatusNotFound)
	}
	if ifMatch != nil && *ifMatch != azcore.ETagAny && *ifMatch != row.etag {
		return "", responseError(http.StatusPreconditionFailed)
	}
	etag := f.nextETag()
	f.rows[pk+"|"+rk] = fakeRow{pk: pk, rk: rk, value: append([]byte(nil), entity...), etag: etag}
	return etag, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	etag, err := f.addLocked(entity)
	return aztables.AddEntityResponse{ETag: etag}, err
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ifMatch *azcore.ETag
	if opts != nil {
		ifMatch = opts.IfMatch
	}
	etag, err := f.replaceLocked(entity, ifMatch)
	return aztables.UpdateEntityResponse{ETag: etag}, err
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, _ *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, rk, err := keysOf(entity)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	etag := f.nextETag()
	f.rows[pk+"|"+rk] = fakeRow{pk: pk, rk: rk, value: append([]byte(nil), entity...), etag: etag}
	return aztables.UpsertEntityResponse{ETag: etag}, nil
}

var (
	pkFilter        = regexp.MustCompile(`PartitionKey eq '([^']*)'`)
	rkRangeFilter   = regexp.MustCompile(`RowKey ge '([^']*)' and RowKey lt '([^']*)'`)
	milestoneFilter = regexp.MustCompile(`MilestoneID eq (\d+)`)
)

func (f *fakeTable) match(filter string, row fakeRow) bool {
	if m := pkFilter.FindStringSubmatch(filter); m != nil && row.pk != m[1] {
		return false
	}
	if m := rkRangeFilter.FindStringSubmatch(filter); m != nil && (row.rk < m[1] || row.rk >= m[2]) {
		return false
	}
	if m := milestoneFilter.FindStringSubmatch(filter); m != nil {
		var v struct {
			MilestoneID int64 `json:"MilestoneID"`
		}
		if err := sonic.Unmarshal(row.value, &v); err != nil || strconv.FormatInt(v.MilestoneID, 10) != m[1] {
			return false
		}
	}
	return true
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	filter := ""
	if opts != nil && opts.Filter != nil {
		filter = *opts.Filter
	}
	f.mu.Lock()
	var rows []fakeRow
	for _, r := range f.rows {
		if f.match(filter, r) {
			rows = append(rows, r)
		}
	}
	f.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].pk != rows[j].pk {
			return rows[i].pk < rows[j].pk
		}
		return rows[i].rk < rows[j].rk
	})
	// Two rows per page to exercise paging.
	const pageSize = 2
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(resp aztables.ListEntitiesResponse) bool {
			return resp.NextRowKey != nil
		},
		Fetcher: func(ctx context.Context, prev *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			start := 0
			if prev != nil && prev.NextRowKey != nil {
				start, _ = strconv.Atoi(*prev.NextRowKey)
			}
			end := start + pageSize
			if end > len(rows) {
				end = len(rows)
			}
			resp := aztables.ListEntitiesResponse{}
			for _, r := range rows[start:end] {
				resp.Entities = append(resp.Entities, r.value)
			}
			if end < len(rows) {
				next := strconv.Itoa(end)
				resp.NextRowKey = &next
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	if f.beforeSubmit != nil {
		f.beforeSubmit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastBatch = actions
	snapshot := make(map[string]fakeRow, len(f.rows))
	for k, v := range f.rows {
		snapshot[k] = v
	}
	for _, a := range actions {
		var err error
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			_, err = f.addLocked(a.Entity)
		case aztables.TransactionTypeUpdateReplace:
			_, err = f.replaceLocked(a.Entity, a.IfMatch)
		default:
			err = fmt.Errorf("unsupported action %v", a.ActionType)
		}
		if err != nil {
			f.rows = snapshot
			return aztables.TransactionResponse{}, err
		}
	}
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}
