package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/progress"
)

const nameTag = "Name"

// EC2 provisions instances directly with the EC2 API.
type EC2 struct {
	API              ec2iface.EC2API
	ImageID          string
	InstanceType     string
	KeyName          string
	SubnetID         string
	SecurityGroupIDs []string
	// Pattern restricts List to instances whose names match it.
	Pattern string
	Logger  log.Logger
}

func (e *EC2) logger() log.Logger {
	if e.Logger == nil {
		return log.NewNopLogger()
	}
	return e.Logger
}

// Create starts an instance with the given name, waits until it is
// running, and returns its public address.
func (e *EC2) Create(ctx context.Context, name string, report progress.Func) (string, error) {
	if report == nil {
		report = progress.Nop
	}
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(e.ImageID),
		InstanceType: aws.String(e.InstanceType),
		MinCount:     aws.Int64(1),
		MaxCount:     aws.Int64(1),
		TagSpecifications: []*ec2.TagSpecification{{
			ResourceType: aws.String(ec2.ResourceTypeInstance),
			Tags:         []*ec2.Tag{{Key: aws.String(nameTag), Value: aws.String(name)}},
		}},
	}
	if e.KeyName != "" {
		input.KeyName = aws.String(e.KeyName)
	}
	if e.SubnetID != "" {
		input.SubnetId = aws.String(e.SubnetID)
	}
	if len(e.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = aws.StringSlice(e.SecurityGroupIDs)
	}

	res, err := e.API.RunInstancesWithContext(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, "running instance")
	}
	if len(res.Instances) == 0 {
		return "", errors.New("no instance was started")
	}
	id := aws.StringValue(res.Instances[0].InstanceId)
	e.logger().Log("info", "instance started", "id", id, "name", name)
	report(fmt.Sprintf("instance %s started, waiting for it to run", id))

	describe := &ec2.DescribeInstancesInput{InstanceIds: aws.StringSlice([]string{id})}
	if err := e.API.WaitUntilInstanceRunningWithContext(ctx, describe); err != nil {
		return "", errors.Wrapf(err, "waiting for instance %s", id)
	}
	out, err := e.API.DescribeInstancesWithContext(ctx, describe)
	if err != nil {
		return "", errors.Wrapf(err, "describing instance %s", id)
	}
	for _, r := range out.Reservations {
		for _, i := range r.Instances {
			if aws.StringValue(i.InstanceId) == id {
				if addr := aws.StringValue(i.PublicIpAddress); addr != "" {
					return addr, nil
				}
			}
		}
	}
	return "", errors.Errorf("instance %s has no public address", id)
}

// List gives the pending and running instances matching the pattern.
func (e *EC2) List(ctx context.Context) ([]Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("instance-state-name"),
			Values: aws.StringSlice([]string{ec2.InstanceStateNamePending, ec2.InstanceStateNameRunning}),
		}},
	}
	var instances []Instance
	for {
		out, err := e.API.DescribeInstancesWithContext(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, "listing instances")
		}
		for _, r := range out.Reservations {
			for _, i := range r.Instances {
				instances = append(instances, Instance{
					ID:      aws.StringValue(i.InstanceId),
					Name:    tagValue(i.Tags, nameTag),
					Address: aws.StringValue(i.PublicIpAddress),
				})
			}
		}
		if aws.StringValue(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return Filter(instances, e.Pattern), nil
}

func (e *EC2) Destroy(ctx context.Context, id string) error {
	_, err := e.API.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice([]string{id}),
	})
	if err != nil {
		return errors.Wrapf(err, "terminating instance %s", id)
	}
	e.logger().Log("info", "instance terminated", "id", id)
	return nil
}

func tagValue(tags []*ec2.Tag, key string) string {
	for _, t := range tags {
		if aws.StringValue(t.Key) == key {
			return aws.StringValue(t.Value)
		}
	}
	return ""
}
