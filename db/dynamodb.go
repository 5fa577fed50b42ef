package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"neptunesearch.evalgo.org/common"
)

// DynamoDBLeaseStore implements LeaseStore on a DynamoDB table. All
// ownership and checkpoint transitions are conditional writes, which is what
// makes overlapping poll cycles safe: a second runner cannot take a held
// lease and cannot advance a lease it does not own.
//
// Table layout (all attributes string-typed):
//
//	leaseKey (partition key) | leaseOwner | checkpoint |
//	checkpointSubSequenceNumber | lastUpdateTime
type DynamoDBLeaseStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDBLeaseStore creates a lease store on the given table.
func NewDynamoDBLeaseStore(cfg aws.Config, table string) *DynamoDBLeaseStore {
	return NewDynamoDBLeaseStoreWithClient(dynamodb.NewFromConfig(cfg), table)
}

// NewDynamoDBLeaseStoreWithClient creates a lease store with a
// pre-configured client, e.g. one pointed at a local endpoint.
func NewDynamoDBLeaseStoreWithClient(client *dynamodb.Client, table string) *DynamoDBLeaseStore {
	return &DynamoDBLeaseStore{
		client: client,
		table:  table,
	}
}

// CreateIfAbsent implements LeaseStore.
func (s *DynamoDBLeaseStore) CreateIfAbsent(ctx context.Context, leaseKey string) error {
	item := map[string]types.AttributeValue{
		"leaseKey":                    &types.AttributeValueMemberS{Value: leaseKey},
		"leaseOwner":                  &types.AttributeValueMemberS{Value: LeaseOwnerNobody},
		"checkpoint":                  &types.AttributeValueMemberS{Value: "0"},
		"checkpointSubSequenceNumber": &types.AttributeValueMemberS{Value: "0"},
		"lastUpdateTime":              &types.AttributeValueMemberS{Value: strconv.FormatInt(common.CurrentMilliTime(), 10)},
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(leaseKey)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			// Lease already exists, nothing to do.
			return nil
		}
		return fmt.Errorf("failed to create lease %s: %w", leaseKey, err)
	}
	common.Logger.WithField("leaseKey", leaseKey).Debug("Created lease entry")
	return nil
}

// Get implements LeaseStore.
func (s *DynamoDBLeaseStore) Get(ctx context.Context, leaseKey string) (*Lease, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"leaseKey": &types.AttributeValueMemberS{Value: leaseKey}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lease %s: %w", leaseKey, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("lease %s not found", leaseKey)
	}
	return leaseFromItem(out.Item)
}

// Take implements LeaseStore.
func (s *DynamoDBLeaseStore) Take(ctx context.Context, leaseKey, newOwner string) (*Lease, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 map[string]types.AttributeValue{"leaseKey": &types.AttributeValueMemberS{Value: leaseKey}},
		UpdateExpression:    aws.String("SET leaseOwner = :leaseOwnerVal, lastUpdateTime = :lastUpdateTimeVal"),
		ConditionExpression: aws.String("leaseOwner = :NOBODY"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":leaseOwnerVal":     &types.AttributeValueMemberS{Value: newOwner},
			":lastUpdateTimeVal": &types.AttributeValueMemberS{Value: strconv.FormatInt(common.CurrentMilliTime(), 10)},
			":NOBODY":            &types.AttributeValueMemberS{Value: LeaseOwnerNobody},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrLeaseBusy
		}
		return nil, fmt.Errorf("failed to take lease %s: %w", leaseKey, err)
	}
	common.Logger.WithFields(map[string]interface{}{
		"leaseKey":   leaseKey,
		"leaseOwner": newOwner,
	}).Debug("Successfully taken lease")
	return leaseFromItem(out.Attributes)
}

// Advance implements LeaseStore.
func (s *DynamoDBLeaseStore) Advance(ctx context.Context, leaseKey, owner string, commitNum, opNum int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{"leaseKey": &types.AttributeValueMemberS{Value: leaseKey}},
		UpdateExpression: aws.String("SET checkpoint = :checkpointVal," +
			" checkpointSubSequenceNumber = :checkpointSubSequenceNumberVal," +
			" lastUpdateTime = :lastUpdateTimeVal"),
		ConditionExpression: aws.String("leaseOwner = :leaseOwnerVal"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":leaseOwnerVal":                  &types.AttributeValueMemberS{Value: owner},
			":checkpointVal":                  &types.AttributeValueMemberS{Value: strconv.FormatInt(commitNum, 10)},
			":checkpointSubSequenceNumberVal": &types.AttributeValueMemberS{Value: strconv.FormatInt(opNum, 10)},
			":lastUpdateTimeVal":              &types.AttributeValueMemberS{Value: strconv.FormatInt(common.CurrentMilliTime(), 10)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrLeaseStolen
		}
		return fmt.Errorf("failed to advance lease %s: %w", leaseKey, err)
	}
	return nil
}

// Evict implements LeaseStore.
func (s *DynamoDBLeaseStore) Evict(ctx context.Context, leaseKey, owner string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 map[string]types.AttributeValue{"leaseKey": &types.AttributeValueMemberS{Value: leaseKey}},
		UpdateExpression:    aws.String("SET leaseOwner = :NOBODY, lastUpdateTime = :lastUpdateTimeVal"),
		ConditionExpression: aws.String("leaseOwner = :leaseOwnerVal"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":NOBODY":            &types.AttributeValueMemberS{Value: LeaseOwnerNobody},
			":leaseOwnerVal":     &types.AttributeValueMemberS{Value: owner},
			":lastUpdateTimeVal": &types.AttributeValueMemberS{Value: strconv.FormatInt(common.CurrentMilliTime(), 10)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			// Some other cycle already reclaimed the lease.
			common.Logger.WithField("leaseKey", leaseKey).Debug("Lease already reclaimed, skipping eviction")
			return nil
		}
		return fmt.Errorf("failed to evict lease %s: %w", leaseKey, err)
	}
	common.Logger.WithField("leaseKey", leaseKey).Debug("Successfully evicted lease")
	return nil
}

// EvictAny implements LeaseStore.
func (s *DynamoDBLeaseStore) EvictAny(ctx context.Context, leaseKey string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 map[string]types.AttributeValue{"leaseKey": &types.AttributeValueMemberS{Value: leaseKey}},
		UpdateExpression:    aws.String("SET leaseOwner = :NOBODY, lastUpdateTime = :lastUpdateTimeVal"),
		ConditionExpression: aws.String("leaseKey = :leaseKeyVal AND leaseOwner <> :NOBODY"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":NOBODY":            &types.AttributeValueMemberS{Value: LeaseOwnerNobody},
			":leaseKeyVal":       &types.AttributeValueMemberS{Value: leaseKey},
			":lastUpdateTimeVal": &types.AttributeValueMemberS{Value: strconv.FormatInt(common.CurrentMilliTime(), 10)},
		},
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if isConditionalCheckFailed(err) || errors.As(err, &notFound) {
			common.Logger.WithField("leaseKey", leaseKey).Debug("No open lease found")
			return nil
		}
		return fmt.Errorf("failed to evict open lease %s: %w", leaseKey, err)
	}
	common.Logger.WithField("leaseKey", leaseKey).Info("Evicted open lease")
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var conditionErr *types.ConditionalCheckFailedException
	return errors.As(err, &conditionErr)
}

func leaseFromItem(item map[string]types.AttributeValue) (*Lease, error) {
	lease := &Lease{
		LeaseKey:   stringAttribute(item, "leaseKey"),
		LeaseOwner: stringAttribute(item, "leaseOwner"),
	}

	var err error
	if lease.Checkpoint, err = intAttribute(item, "checkpoint"); err != nil {
		return nil, err
	}
	if lease.CheckpointSubSequenceNumber, err = intAttribute(item, "checkpointSubSequenceNumber"); err != nil {
		return nil, err
	}
	if lease.LastUpdateTime, err = intAttribute(item, "lastUpdateTime"); err != nil {
		return nil, err
	}
	return lease, nil
}

func stringAttribute(item map[string]types.AttributeValue, key string) string {
	switch v := item[key].(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

func intAttribute(item map[string]types.AttributeValue, key string) (int64, error) {
	raw := stringAttribute(item, key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lease attribute %s is not numeric: %w", key, err)
	}
	return n, nil
}
