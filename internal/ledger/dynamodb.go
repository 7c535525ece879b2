package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
)

const (
	hashKey        = "SRR_id"
	errorTypeField = "error_type"
)

type dynamoAPI interface {
	UpdateItemWithContext(ctx aws.Context, input *dynamodb.UpdateItemInput, opts ...request.Option) (*dynamodb.UpdateItemOutput, error)
	GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error)
	ScanWithContext(ctx aws.Context, input *dynamodb.ScanInput, opts ...request.Option) (*dynamodb.ScanOutput, error)
}

// DynamoDBLedger keeps runs in a DynamoDB table keyed by SRR_id
type DynamoDBLedger struct {
	client dynamoAPI
	table  string
	logger *slog.Logger
}

// NewDynamoDBLedger creates a ledger over table
func NewDynamoDBLedger(client dynamoAPI, table string, logger *slog.Logger) *DynamoDBLedger {
	return &DynamoDBLedger{
		client: client,
		table:  table,
		logger: logger,
	}
}

// SaveRun upserts the row with UpdateItem so attributes written by other tools survive
func (l *DynamoDBLedger) SaveRun(ctx context.Context, run *SampleRun) error {
	if run.SRRID == "" {
		return errors.New("sample run has no SRR id")
	}

	item, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("failed to marshal sample run: %w", err)
	}
	delete(item, hashKey)

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(l.table),
		Key: map[string]*dynamodb.AttributeValue{
			hashKey: {S: aws.String(run.SRRID)},
		},
		ExpressionAttributeNames: map[string]*string{},
	}

	names := make([]string, 0, len(item))
	for name := range item {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	values := make(map[string]*dynamodb.AttributeValue, len(names))
	for i, name := range names {
		n, v := fmt.Sprintf("#a%d", i), fmt.Sprintf(":v%d", i)
		input.ExpressionAttributeNames[n] = aws.String(name)
		values[v] = item[name]
		sets = append(sets, n+" = "+v)
	}

	var expr []string
	if len(sets) > 0 {
		expr = append(expr, "SET "+strings.Join(sets, ", "))
		input.ExpressionAttributeValues = values
	}
	if run.ErrorType == "" {
		input.ExpressionAttributeNames["#err"] = aws.String(errorTypeField)
		expr = append(expr, "REMOVE #err")
	}
	input.UpdateExpression = aws.String(strings.Join(expr, " "))

	if _, err := l.client.UpdateItemWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to save sample run %s: %w", run.SRRID, err)
	}

	l.logger.Debug("Saved sample run",
		slog.String("srr_id", run.SRRID),
		slog.String("table", l.table),
	)

	return nil
}

// GetRun reads a single row
func (l *DynamoDBLedger) GetRun(ctx context.Context, srrID string) (*SampleRun, error) {
	out, err := l.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.table),
		Key: map[string]*dynamodb.AttributeValue{
			hashKey: {S: aws.String(srrID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sample run %s: %w", srrID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrRunNotFound
	}

	var run SampleRun
	if err := dynamodbattribute.UnmarshalMap(out.Item, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sample run %s: %w", srrID, err)
	}

	return &run, nil
}

// ListRuns scans one page of the table. Scan order is the table's, not SRR id order.
func (l *DynamoDBLedger) ListRuns(ctx context.Context, filter RunFilter) (RunPage, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(l.table),
		Limit:     aws.Int64(int64(pageSize(filter))),
	}
	if filter.After != "" {
		input.ExclusiveStartKey = map[string]*dynamodb.AttributeValue{
			hashKey: {S: aws.String(filter.After)},
		}
	}

	out, err := l.client.ScanWithContext(ctx, input)
	if err != nil {
		return RunPage{}, fmt.Errorf("failed to scan %s: %w", l.table, err)
	}

	var runs []*SampleRun
	if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &runs); err != nil {
		return RunPage{}, fmt.Errorf("failed to unmarshal scan page: %w", err)
	}

	page := RunPage{Runs: runs}
	if key, ok := out.LastEvaluatedKey[hashKey]; ok {
		page.Next = aws.StringValue(key.S)
	}

	return page, nil
}
