// Package aws implements the AWS side of the ingestion core: the billing
// adapter, the credential delegation broker, the export destination client,
// and export provisioning.
package aws

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

const dateLayout = "2006-01-02"

// defaultScanRegions is used when a recommendation scan gives no regions.
var defaultScanRegions = []string{"us-east-1", "us-east-2", "us-west-2", "eu-west-1", "eu-central-1"}

// Adapter implements the provider contract for AWS using Cost Explorer.
type Adapter struct {
	broker *CredentialBroker
	logger *zap.Logger

	mu          sync.Mutex
	clientCache map[string]interface{}
}

// NewAdapter creates the AWS billing adapter.
func NewAdapter(broker *CredentialBroker, logger *zap.Logger) *Adapter {
	return &Adapter{
		broker:      broker,
		logger:      logger,
		clientCache: make(map[string]interface{}),
	}
}

// ResolveCredentials delegates to the credential broker.
func (a *Adapter) ResolveCredentials(ctx context.Context, account entity.CloudAccount) (*entity.Credentials, error) {
	return a.broker.Resolve(ctx, account)
}

// ValidateCredentials reports whether the credentials can identify
// themselves to the provider.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds *entity.Credentials) bool {
	client := sts.NewFromConfig(a.awsConfig(creds, ""))
	_, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	return err == nil
}

// SynthesizeDailyData returns nil: Cost Explorer already provides true daily
// granularity.
func (a *Adapter) SynthesizeDailyData(_ entity.CostData, _, _ time.Time) []entity.DailyPoint {
	return nil
}

// awsConfig builds a client config from resolved credentials.
func (a *Adapter) awsConfig(creds *entity.Credentials, region string) aws.Config {
	if region == "" {
		region = creds.Region
	}
	return aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKey, creds.SecretKey, creds.SessionToken),
	}
}

// serviceClient returns a cached regional client, creating it on first use.
func (a *Adapter) serviceClient(creds *entity.Credentials, region, service string) interface{} {
	cacheKey := fmt.Sprintf("%s-%s-%s", creds.AccessKey, region, service)

	a.mu.Lock()
	defer a.mu.Unlock()
	if client, ok := a.clientCache[cacheKey]; ok {
		return client
	}

	cfg := a.awsConfig(creds, region)
	var client interface{}
	switch service {
	case "costexplorer":
		// Cost Explorer is only served from us-east-1.
		cfg.Region = "us-east-1"
		client = costexplorer.NewFromConfig(cfg)
	case "budgets":
		cfg.Region = "us-east-1"
		client = budgets.NewFromConfig(cfg)
	case "sts":
		client = sts.NewFromConfig(cfg)
	case "ec2":
		client = ec2.NewFromConfig(cfg)
	case "elbv2":
		client = elasticloadbalancingv2.NewFromConfig(cfg)
	case "cloudwatchlogs":
		client = cloudwatchlogs.NewFromConfig(cfg)
	}

	a.clientCache[cacheKey] = client
	return client
}

// FetchCostData queries Cost Explorer for the window plus the current and
// previous month totals, at daily granularity grouped by service.
func (a *Adapter) FetchCostData(ctx context.Context, creds *entity.Credentials, start, end time.Time) (entity.CostData, error) {
	ceClient := a.serviceClient(creds, "", "costexplorer").(*costexplorer.Client)

	today := time.Now().UTC()
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevMonthEnd := monthStart.AddDate(0, 0, -1)
	prevMonthStart := time.Date(prevMonthEnd.Year(), prevMonthEnd.Month(), 1, 0, 0, 0, 0, time.UTC)

	var data entity.CostData
	var wg sync.WaitGroup
	errChan := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		total, err := a.totalForPeriod(ctx, ceClient, monthStart, today.AddDate(0, 0, 1), nil)
		if err != nil {
			errChan <- fmt.Errorf("current month total: %w", err)
			return
		}
		data.CurrentMonthTotal = total
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		total, err := a.totalForPeriod(ctx, ceClient, prevMonthStart, monthStart, nil)
		if err != nil {
			errChan <- fmt.Errorf("last month total: %w", err)
			return
		}
		data.LastMonthTotal = total
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		daily, services, err := a.dailyByService(ctx, ceClient, start, end)
		if err != nil {
			errChan <- fmt.Errorf("daily cost by service: %w", err)
			return
		}
		data.DailyPoints = daily
		data.Services = services
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		credits, err := a.totalForPeriod(ctx, ceClient, monthStart, today.AddDate(0, 0, 1), &ceTypes.Expression{
			Dimensions: &ceTypes.DimensionValues{
				Key:    "RECORD_TYPE",
				Values: []string{"Credit"},
			},
		})
		if err == nil {
			data.Credits = credits
		}
	}()

	wg.Wait()
	close(errChan)
	if len(errChan) > 0 {
		return entity.CostData{}, <-errChan
	}

	data.Forecast = a.forecast(ctx, creds, ceClient, monthStart)
	return data, nil
}

func (a *Adapter) totalForPeriod(ctx context.Context, client *costexplorer.Client, start, end time.Time, filter *ceTypes.Expression) (float64, error) {
	out, err := client.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(start.Format(dateLayout)),
			End:   aws.String(end.Format(dateLayout)),
		},
		Granularity: ceTypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		Filter:      filter,
	})
	if err != nil {
		return 0, err
	}

	total := decimal.Zero
	for _, period := range out.ResultsByTime {
		if val, ok := period.Total["UnblendedCost"]; ok && val.Amount != nil {
			amount, _ := strconv.ParseFloat(*val.Amount, 64)
			total = total.Add(decimal.NewFromFloat(amount))
		}
	}
	f, _ := total.Round(2).Float64()
	return f, nil
}

// dailyByService runs the daily-granularity query grouped by SERVICE and
// folds the result into per-day and per-service totals.
func (a *Adapter) dailyByService(ctx context.Context, client *costexplorer.Client, start, end time.Time) ([]entity.DailyPoint, []entity.ServiceCost, error) {
	out, err := client.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(start.Format(dateLayout)),
			End:   aws.String(end.AddDate(0, 0, 1).Format(dateLayout)),
		},
		Granularity: ceTypes.GranularityDaily,
		Metrics:     []string{"UnblendedCost"},
		GroupBy: []ceTypes.GroupDefinition{
			{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	})
	if err != nil {
		return nil, nil, err
	}

	serviceTotals := make(map[string]decimal.Decimal)
	var daily []entity.DailyPoint

	for _, period := range out.ResultsByTime {
		day, err := time.Parse(dateLayout, aws.ToString(period.TimePeriod.Start))
		if err != nil {
			continue
		}
		dayTotal := decimal.Zero
		for _, group := range period.Groups {
			val, ok := group.Metrics["UnblendedCost"]
			if !ok || val.Amount == nil || len(group.Keys) == 0 {
				continue
			}
			amount, _ := strconv.ParseFloat(*val.Amount, 64)
			d := decimal.NewFromFloat(amount)
			dayTotal = dayTotal.Add(d)
			serviceTotals[group.Keys[0]] = serviceTotals[group.Keys[0]].Add(d)
		}
		cost, _ := dayTotal.Round(2).Float64()
		daily = append(daily, entity.DailyPoint{Date: day, Cost: cost})
	}

	var services []entity.ServiceCost
	for name, total := range serviceTotals {
		cost, _ := total.Round(2).Float64()
		if cost > 0 {
			services = append(services, entity.ServiceCost{ServiceName: name, Cost: cost})
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Cost > services[j].Cost })

	return daily, services, nil
}

// forecast asks Cost Explorer for a month-end forecast and falls back to the
// account's budget forecasts when the forecast API has too little history.
func (a *Adapter) forecast(ctx context.Context, creds *entity.Credentials, client *costexplorer.Client, monthStart time.Time) float64 {
	monthEnd := monthStart.AddDate(0, 1, 0)
	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	if !tomorrow.Before(monthEnd) {
		return 0
	}

	out, err := client.GetCostForecast(ctx, &costexplorer.GetCostForecastInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(tomorrow.Format(dateLayout)),
			End:   aws.String(monthEnd.Format(dateLayout)),
		},
		Granularity: ceTypes.GranularityMonthly,
		Metric:      ceTypes.MetricUnblendedCost,
	})
	if err == nil && out.Total != nil && out.Total.Amount != nil {
		forecast, _ := strconv.ParseFloat(*out.Total.Amount, 64)
		return forecast
	}

	return a.budgetForecast(ctx, creds)
}

func (a *Adapter) budgetForecast(ctx context.Context, creds *entity.Credentials) float64 {
	stsClient := a.serviceClient(creds, "", "sts").(*sts.Client)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return 0
	}

	budgetClient := a.serviceClient(creds, "", "budgets").(*budgets.Client)
	out, err := budgetClient.DescribeBudgets(ctx, &budgets.DescribeBudgetsInput{
		AccountId: identity.Account,
	})
	if err != nil {
		return 0
	}

	for _, b := range out.Budgets {
		if b.CalculatedSpend != nil && b.CalculatedSpend.ForecastedSpend != nil && b.CalculatedSpend.ForecastedSpend.Amount != nil {
			forecast, _ := strconv.ParseFloat(*b.CalculatedSpend.ForecastedSpend.Amount, 64)
			if forecast > 0 {
				return forecast
			}
		}
	}
	return 0
}

// FetchServiceDetails breaks one service's cost down by usage type.
func (a *Adapter) FetchServiceDetails(ctx context.Context, creds *entity.Credentials, serviceName string, start, end time.Time) ([]entity.ServiceCost, error) {
	ceClient := a.serviceClient(creds, "", "costexplorer").(*costexplorer.Client)

	out, err := ceClient.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(start.Format(dateLayout)),
			End:   aws.String(end.AddDate(0, 0, 1).Format(dateLayout)),
		},
		Granularity: ceTypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		GroupBy: []ceTypes.GroupDefinition{
			{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("USAGE_TYPE")},
		},
		Filter: &ceTypes.Expression{
			Dimensions: &ceTypes.DimensionValues{
				Key:    "SERVICE",
				Values: []string{serviceName},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("service details for %s: %w", serviceName, err)
	}

	var details []entity.ServiceCost
	for _, period := range out.ResultsByTime {
		for _, group := range period.Groups {
			val, ok := group.Metrics["UnblendedCost"]
			if !ok || val.Amount == nil || len(group.Keys) == 0 {
				continue
			}
			cost, _ := strconv.ParseFloat(*val.Amount, 64)
			if cost < 0.001 {
				continue
			}
			details = append(details, entity.ServiceCost{
				ServiceName: stripRegionPrefix(group.Keys[0]),
				Cost:        cost,
			})
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Cost > details[j].Cost })
	return details, nil
}

// stripRegionPrefix removes regional usage-type prefixes such as
// USE2-DataTransfer-Out-Bytes.
func stripRegionPrefix(usageType string) string {
	parts := strings.Split(usageType, "-")
	if len(parts) > 1 && len(parts[0]) <= 4 && parts[0] == strings.ToUpper(parts[0]) {
		return strings.Join(parts[1:], "-")
	}
	return usageType
}

// FetchRecommendations scans for idle resources that keep accruing cost.
func (a *Adapter) FetchRecommendations(ctx context.Context, creds *entity.Credentials, opts entity.RecommendationOptions) ([]entity.Recommendation, error) {
	regions := opts.Regions
	if len(regions) == 0 {
		regions = defaultScanRegions
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		recs []entity.Recommendation
	)
	add := func(r []entity.Recommendation) {
		mu.Lock()
		recs = append(recs, r...)
		mu.Unlock()
	}

	for _, region := range regions {
		wg.Add(1)
		go func(rgn string) {
			defer wg.Done()
			add(a.scanEC2(ctx, creds, rgn))
			add(a.scanLoadBalancers(ctx, creds, rgn))
			add(a.scanLogGroups(ctx, creds, rgn))
		}(region)
	}
	wg.Wait()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].EstimatedMonthlySaving > recs[j].EstimatedMonthlySaving
	})
	return recs, nil
}

func (a *Adapter) scanEC2(ctx context.Context, creds *entity.Credentials, region string) []entity.Recommendation {
	client := a.serviceClient(creds, region, "ec2").(*ec2.Client)
	var recs []entity.Recommendation

	stopped, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2Types.Filter{{Name: aws.String("instance-state-name"), Values: []string{"stopped"}}},
	})
	if err == nil {
		for _, res := range stopped.Reservations {
			for _, inst := range res.Instances {
				recs = append(recs, entity.Recommendation{
					Category:    "stopped-instance",
					ResourceID:  aws.ToString(inst.InstanceId),
					Region:      region,
					Description: "Stopped instance still accrues EBS storage cost; terminate it or snapshot and delete its volumes.",
				})
			}
		}
	}

	volumes, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []ec2Types.Filter{{Name: aws.String("status"), Values: []string{"available"}}},
	})
	if err == nil {
		for _, vol := range volumes.Volumes {
			size := aws.ToInt32(vol.Size)
			recs = append(recs, entity.Recommendation{
				Category:               "unattached-volume",
				ResourceID:             aws.ToString(vol.VolumeId),
				Region:                 region,
				Description:            "Unattached volume; snapshot and delete it if no longer needed.",
				EstimatedMonthlySaving: float64(size) * 0.08,
			})
		}
	}

	addresses, err := client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err == nil {
		for _, addr := range addresses.Addresses {
			if addr.AssociationId == nil {
				recs = append(recs, entity.Recommendation{
					Category:               "idle-elastic-ip",
					ResourceID:             aws.ToString(addr.PublicIp),
					Region:                 region,
					Description:            "Elastic IP not associated with any resource; release it.",
					EstimatedMonthlySaving: 3.6,
				})
			}
		}
	}

	return recs
}

func (a *Adapter) scanLoadBalancers(ctx context.Context, creds *entity.Credentials, region string) []entity.Recommendation {
	client := a.serviceClient(creds, region, "elbv2").(*elasticloadbalancingv2.Client)
	var recs []entity.Recommendation

	lbs, err := client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{})
	if err != nil {
		return nil
	}

	for _, lb := range lbs.LoadBalancers {
		tgs, err := client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
			LoadBalancerArn: lb.LoadBalancerArn,
		})
		if err != nil {
			continue
		}

		idle := true
		for _, tg := range tgs.TargetGroups {
			health, err := client.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
				TargetGroupArn: tg.TargetGroupArn,
			})
			if err != nil {
				continue
			}
			if len(health.TargetHealthDescriptions) > 0 {
				idle = false
				break
			}
		}
		if idle {
			recs = append(recs, entity.Recommendation{
				Category:               "idle-load-balancer",
				ResourceID:             aws.ToString(lb.LoadBalancerName),
				Region:                 region,
				Description:            "Load balancer has no registered targets; delete it.",
				EstimatedMonthlySaving: 16.2,
			})
		}
	}
	return recs
}

func (a *Adapter) scanLogGroups(ctx context.Context, creds *entity.Credentials, region string) []entity.Recommendation {
	client := a.serviceClient(creds, region, "cloudwatchlogs").(*cloudwatchlogs.Client)
	var recs []entity.Recommendation

	p := cloudwatchlogs.NewDescribeLogGroupsPaginator(client, &cloudwatchlogs.DescribeLogGroupsInput{
		Limit: aws.Int32(50),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return recs
		}
		for _, lg := range page.LogGroups {
			if lg.RetentionInDays != nil {
				continue
			}
			stored := aws.ToInt64(lg.StoredBytes)
			if stored < 1<<30 {
				continue
			}
			recs = append(recs, entity.Recommendation{
				Category:               "unbounded-log-retention",
				ResourceID:             aws.ToString(lg.LogGroupName),
				Region:                 region,
				Description:            "Log group never expires; set a retention policy to stop storage growth.",
				EstimatedMonthlySaving: float64(stored) / float64(1<<30) * 0.03,
			})
		}
	}
	return recs
}
