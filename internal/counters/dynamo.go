package counters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// counterItem is the DynamoDB shape of one period counter.
type counterItem struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Count     int    `dynamodbav:"count"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore keeps counters in a DynamoDB table keyed by
// pk="<persona>#<user>" and sk="<period>#<window>". Charges are a single
// TransactWriteItems call with one conditional update per period.
type DynamoStore struct {
	client dynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamoStore(client dynamoAPI, table string) *DynamoStore {
	if client == nil {
		panic("counters: dynamodb client cannot be nil")
	}
	return &DynamoStore{client: client, table: table, now: time.Now}
}

func dynamoKey(personaID, userID string, p Period, at time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: personaID + "#" + userID},
		"sk": &types.AttributeValueMemberS{Value: string(p) + "#" + PeriodKey(p, at)},
	}
}

func (s *DynamoStore) TryIncrement(ctx context.Context, personaID, userID string, at time.Time, limits ...Limit) (bool, error) {
	if !validLimits(limits) {
		return false, nil
	}
	items := make([]types.TransactWriteItem, 0, len(limits))
	for _, l := range limits {
		expires := s.now().Add(retention(l.Period)).Unix()
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(s.table),
				Key:                 dynamoKey(personaID, userID, l.Period, at),
				UpdateExpression:    aws.String("ADD #count :one SET #exp = if_not_exists(#exp, :exp)"),
				ConditionExpression: aws.String("attribute_not_exists(#count) OR #count < :max"),
				ExpressionAttributeNames: map[string]string{
					"#count": "count",
					"#exp":   "expiresAt",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": &types.AttributeValueMemberN{Value: "1"},
					":max": &types.AttributeValueMemberN{Value: strconv.Itoa(l.Max)},
					":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
				},
			},
		})
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return true, nil
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && conditionFailed(canceled) {
		return false, nil
	}
	return false, fmt.Errorf("counters: dynamodb try increment: %w", err)
}

func conditionFailed(e *types.TransactionCanceledException) bool {
	for _, reason := range e.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func (s *DynamoStore) Usage(ctx context.Context, personaID, userID string, at time.Time) (Usage, error) {
	day, err := s.get(ctx, dynamoKey(personaID, userID, Day, at))
	if err != nil {
		return Usage{}, err
	}
	week, err := s.get(ctx, dynamoKey(personaID, userID, Week, at))
	if err != nil {
		return Usage{}, err
	}
	return Usage{Today: day, ThisWeek: week}, nil
}

func (s *DynamoStore) get(ctx context.Context, key map[string]types.AttributeValue) (int, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counters: dynamodb get: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	var item counterItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return 0, fmt.Errorf("counters: dynamodb unmarshal: %w", err)
	}
	return item.Count, nil
}
