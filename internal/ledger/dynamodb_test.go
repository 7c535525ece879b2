package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	update *dynamodb.UpdateItemInput
	items  map[string]map[string]*dynamodb.AttributeValue
	scans  []*dynamodb.ScanInput
	pages  []*dynamodb.ScanOutput
	err    error
}

func (f *fakeDynamo) UpdateItemWithContext(_ aws.Context, input *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.update = input
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItemWithContext(_ aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[aws.StringValue(input.Key["SRR_id"].S)]}, nil
}

func (f *fakeDynamo) ScanWithContext(_ aws.Context, input *dynamodb.ScanInput, _ ...request.Option) (*dynamodb.ScanOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.scans = append(f.scans, input)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func newDynamoLedger(client *fakeDynamo) *DynamoDBLedger {
	return NewDynamoDBLedger(client, "neardata-tissues-salmon-metadata", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func item(t *testing.T, run *SampleRun) map[string]*dynamodb.AttributeValue {
	t.Helper()
	av, err := dynamodbattribute.MarshalMap(run)
	require.NoError(t, err)
	return av
}

func TestDynamoDBLedger_SaveRun(t *testing.T) {
	client := &fakeDynamo{}
	l := newDynamoLedger(client)

	rate := 91.5
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	err := l.SaveRun(context.Background(), &SampleRun{
		SRRID:         "SRR1",
		Bucket:        "neardata-bucket-123",
		MappingRate:   &rate,
		PrefetchStart: &start,
	})
	require.NoError(t, err)

	in := client.update
	require.NotNil(t, in)
	assert.Equal(t, "neardata-tissues-salmon-metadata", aws.StringValue(in.TableName))
	assert.Equal(t, "SRR1", aws.StringValue(in.Key["SRR_id"].S))

	// attribute names are sorted: bucket, prefetch_start_time, salmon_mapping_rate [%]
	assert.Equal(t, "SET #a0 = :v0, #a1 = :v1, #a2 = :v2 REMOVE #err", aws.StringValue(in.UpdateExpression))
	assert.Equal(t, "bucket", aws.StringValue(in.ExpressionAttributeNames["#a0"]))
	assert.Equal(t, "prefetch_start_time", aws.StringValue(in.ExpressionAttributeNames["#a1"]))
	assert.Equal(t, "salmon_mapping_rate [%]", aws.StringValue(in.ExpressionAttributeNames["#a2"]))
	assert.Equal(t, "error_type", aws.StringValue(in.ExpressionAttributeNames["#err"]))
	assert.Equal(t, "91.5", aws.StringValue(in.ExpressionAttributeValues[":v2"].N))
	assert.NotContains(t, in.ExpressionAttributeNames, "SRR_id")
}

func TestDynamoDBLedger_SaveRunWithError(t *testing.T) {
	client := &fakeDynamo{}
	l := newDynamoLedger(client)

	require.NoError(t, l.SaveRun(context.Background(), &SampleRun{SRRID: "SRR1", ErrorType: "QUANTIFY"}))
	assert.Equal(t, "SET #a0 = :v0", aws.StringValue(client.update.UpdateExpression))
	assert.Equal(t, "QUANTIFY", aws.StringValue(client.update.ExpressionAttributeValues[":v0"].S))

	assert.Error(t, l.SaveRun(context.Background(), &SampleRun{}))

	client.err = errors.New("ProvisionedThroughputExceededException")
	assert.Error(t, l.SaveRun(context.Background(), &SampleRun{SRRID: "SRR1"}))
}

func TestDynamoDBLedger_GetRun(t *testing.T) {
	client := &fakeDynamo{items: map[string]map[string]*dynamodb.AttributeValue{}}
	client.items["SRR1"] = item(t, &SampleRun{SRRID: "SRR1", TissueName: "liver"})
	l := newDynamoLedger(client)

	run, err := l.GetRun(context.Background(), "SRR1")
	require.NoError(t, err)
	assert.Equal(t, "liver", run.TissueName)

	_, err = l.GetRun(context.Background(), "SRR2")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestDynamoDBLedger_ListRuns(t *testing.T) {
	client := &fakeDynamo{pages: []*dynamodb.ScanOutput{
		{
			Items: []map[string]*dynamodb.AttributeValue{
				item(t, &SampleRun{SRRID: "SRR1"}),
				item(t, &SampleRun{SRRID: "SRR2"}),
			},
			LastEvaluatedKey: map[string]*dynamodb.AttributeValue{"SRR_id": {S: aws.String("SRR2")}},
		},
		{
			Items: []map[string]*dynamodb.AttributeValue{item(t, &SampleRun{SRRID: "SRR3"})},
		},
	}}
	l := newDynamoLedger(client)

	page, err := l.ListRuns(context.Background(), RunFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Runs, 2)
	assert.Equal(t, "SRR2", page.Next)
	assert.Nil(t, client.scans[0].ExclusiveStartKey)
	assert.Equal(t, int64(2), aws.Int64Value(client.scans[0].Limit))

	page, err = l.ListRuns(context.Background(), RunFilter{PageSize: 2, After: page.Next})
	require.NoError(t, err)
	require.Len(t, page.Runs, 1)
	assert.Empty(t, page.Next)
	assert.Equal(t, "SRR2", aws.StringValue(client.scans[1].ExclusiveStartKey["SRR_id"].S))
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	assert.NoError(t, r.SaveRun(context.Background(), &SampleRun{SRRID: "SRR1"}))
}
