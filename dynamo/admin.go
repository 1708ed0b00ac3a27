package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// ListTables returns the names of the tables starting with prefix.
func (c *Client) ListTables(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pages := dynamodb.NewListTablesPaginator(c.api, &dynamodb.ListTablesInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, name := range page.TableNames {
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// DropTable deletes table and waits until it is gone.
func (c *Client) DropTable(ctx context.Context, table string) error {
	_, err := c.api.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)})
	if err != nil {
		return mapError(err)
	}
	waiter := dynamodb.NewTableNotExistsWaiter(c.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, c.waitTimeout); err != nil {
		return fmt.Errorf("wait for table %s deletion: %w", table, err)
	}
	c.logger.Info("dropped table", zap.String("table", table))
	return nil
}
