package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/lease"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
)

const (
	hashKey               = "node_name"
	defaultTableName      = "nodes"
	defaultMaxCASAttempts = 8

	conditionAbsent  = "attribute_not_exists(" + hashKey + ")"
	conditionPresent = "attribute_exists(" + hashKey + ")"
	conditionVersion = "#version = :expected"
)

// API is the subset of *dynamodb.Client the store calls.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// nodeItem is the table row. Timestamps are RFC3339Nano strings so they sort
// and read back without loss.
type nodeItem struct {
	Name       string         `dynamodbav:"node_name"`
	Status     string         `dynamodbav:"status"`
	Holder     string         `dynamodbav:"holder,omitempty"`
	ExpiresAt  string         `dynamodbav:"expires_at,omitempty"`
	UpdatedAt  string         `dynamodbav:"updated_at"`
	Attributes map[string]any `dynamodbav:"attributes,omitempty"`
	Version    int64          `dynamodbav:"version"`
}

type transition func(current models.Node, now time.Time) (models.Node, bool, error)

// DynamoNodeStore keeps one item per node, keyed by node_name. Writes are
// conditional on the version the caller read.
type DynamoNodeStore struct {
	api         API
	clock       clock.Clock
	table       string
	maxAttempts int
}

func NewDynamoNodeStore(api API, clk clock.Clock, table string) *DynamoNodeStore {
	if clk == nil {
		clk = clock.WallClock
	}
	if table == "" {
		table = defaultTableName
	}
	return &DynamoNodeStore{
		api:         api,
		clock:       clk,
		table:       table,
		maxAttempts: defaultMaxCASAttempts,
	}
}

func (s *DynamoNodeStore) Register(ctx context.Context, name string, attributes map[string]any) (models.Node, error) {
	node := lease.New(name, attributes, s.clock.Now())
	item, err := encodeNode(node)
	if err != nil {
		return models.Node{}, err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String(conditionAbsent),
	})
	if isConditionFailed(err) {
		return models.Node{}, nlerrors.ErrAlreadyExists
	}
	if err != nil {
		return models.Node{}, unavailable(err)
	}
	return node, nil
}

func (s *DynamoNodeStore) Remove(ctx context.Context, name string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 itemKey(name),
		ConditionExpression: aws.String(conditionPresent),
	})
	if isConditionFailed(err) {
		return nlerrors.ErrNotFound
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *DynamoNodeStore) Get(ctx context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, nil, reconcile)
	return node, err
}

func (s *DynamoNodeStore) List(ctx context.Context) ([]models.Node, error) {
	nodes, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]models.Node, 0, len(nodes))
	for i := range nodes {
		node, _, err := s.mutate(ctx, nodes[i].Name, &nodes[i], reconcile)
		if errors.Is(err, nlerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, nil
}

func (s *DynamoNodeStore) Acquire(ctx context.Context, name, holder string, expiresAt time.Time) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, nil, func(current models.Node, now time.Time) (models.Node, bool, error) {
		updated, err := lease.Grant(current, holder, expiresAt, now)
		return updated, err == nil, err
	})
	return node, err
}

func (s *DynamoNodeStore) Release(ctx context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, nil, func(current models.Node, now time.Time) (models.Node, bool, error) {
		return lease.Free(current, now), true, nil
	})
	return node, err
}

func (s *DynamoNodeStore) Sweep(ctx context.Context) (int, error) {
	nodes, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range nodes {
		_, changed, err := s.mutate(ctx, nodes[i].Name, &nodes[i], reconcile)
		if errors.Is(err, nlerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		if changed {
			released++
		}
	}
	return released, nil
}

// Ping checks that the table is reachable with the configured credentials.
func (s *DynamoNodeStore) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return err
}

func (s *DynamoNodeStore) mutate(ctx context.Context, name string, seed *models.Node, fn transition) (models.Node, bool, error) {
	current := seed
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if current == nil {
			loaded, err := s.load(ctx, name)
			if err != nil {
				return models.Node{}, false, err
			}
			current = &loaded
		}

		updated, changed, err := fn(*current, s.clock.Now())
		if err != nil {
			return models.Node{}, false, err
		}
		if !changed {
			return updated, false, nil
		}

		item, err := encodeNode(updated)
		if err != nil {
			return models.Node{}, false, err
		}
		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(s.table),
			Item:                     item,
			ConditionExpression:      aws.String(conditionVersion),
			ExpressionAttributeNames: map[string]string{"#version": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
			},
		})
		if err == nil {
			return updated, true, nil
		}
		if !isConditionFailed(err) {
			return models.Node{}, false, unavailable(err)
		}
		log.Debug().Str("name", name).Int("attempt", attempt).Msg("dynamodb conditional write rejected, retrying")
		current = nil
	}
	return models.Node{}, false, nlerrors.Unavailable(fmt.Errorf("%w after %d attempts on %s", nlerrors.ErrCASConflict, s.maxAttempts, name))
}

func (s *DynamoNodeStore) load(ctx context.Context, name string) (models.Node, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.Node{}, unavailable(err)
	}
	if len(out.Item) == 0 {
		return models.Node{}, nlerrors.ErrNotFound
	}
	return decodeNode(out.Item)
}

func (s *DynamoNodeStore) scan(ctx context.Context) ([]models.Node, error) {
	paginator := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
	var nodes []models.Node
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, unavailable(err)
		}
		for _, item := range page.Items {
			node, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

func encodeNode(node models.Node) (map[string]types.AttributeValue, error) {
	item := nodeItem{
		Name:       node.Name,
		Status:     string(node.Status),
		Holder:     node.Holder,
		UpdatedAt:  node.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Attributes: node.Attributes,
		Version:    node.Version,
	}
	if node.ExpiresAt != nil {
		item.ExpiresAt = node.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return attributevalue.MarshalMap(item)
}

func decodeNode(raw map[string]types.AttributeValue) (models.Node, error) {
	var item nodeItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return models.Node{}, fmt.Errorf("invalid node item: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, item.UpdatedAt)
	if err != nil {
		return models.Node{}, fmt.Errorf("invalid updated_at on %s: %w", item.Name, err)
	}
	node := models.Node{
		Name:       item.Name,
		Status:     nltypes.NodeStatus(item.Status),
		Holder:     item.Holder,
		UpdatedAt:  updatedAt,
		Attributes: item.Attributes,
		Version:    item.Version,
	}
	if item.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, item.ExpiresAt)
		if err != nil {
			return models.Node{}, fmt.Errorf("invalid expires_at on %s: %w", item.Name, err)
		}
		node.ExpiresAt = &expiresAt
	}
	return node, nil
}

func itemKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{hashKey: &types.AttributeValueMemberS{Value: name}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func unavailable(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		log.Warn().Str("code", apiErr.ErrorCode()).Str("fault", apiErr.ErrorFault().String()).Msg("dynamodb request failed")
	}
	return nlerrors.Unavailable(err)
}

func reconcile(current models.Node, now time.Time) (models.Node, bool, error) {
	updated, changed := lease.Reconcile(current, now)
	return updated, changed, nil
}
