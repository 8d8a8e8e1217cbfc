package catalog

import (
	"github.com/armadaproject/insights/internal/insights/model"
)

const (
	jobRunsTable   = "cicd_job_runs"
	jobsTable      = "cicd_jobs"
	instancesTable = "cicd_instances"

	jobsJoin      JoinId = "jobs"
	instancesJoin JoinId = "instances"
)

const (
	JobName          model.Dimension = "job_name"
	QualifiedJobName model.Dimension = "qualified_job_name"
	JobProjectName   model.Dimension = "project_name"
	JobStatus        model.Dimension = "job_status"
	CicdUser         model.Dimension = "cicd_user"
	InstanceName     model.Dimension = "instance_name"
	JobTrend         model.Dimension = "trend"
	JobEnd           model.Dimension = "job_end"
)

func NewJobRunsCatalog() *Catalog {
	return newCatalog(catalogSpec{
		family:    model.JobRuns,
		baseTable: jobRunsTable,
		baseAlias: "r",
		idColumn:  "id",
		joins: []*JoinDescriptor{
			{
				Id:     jobsJoin,
				Kind:   InnerJoin,
				Source: tableSource(jobsTable),
				Alias:  "jobs",
				On:     "jobs.id = r.cicd_job_id",
			},
			{
				Id:        instancesJoin,
				Kind:      LeftJoin,
				Source:    tableSource(instancesTable),
				Alias:     "instances",
				On:        "instances.id = jobs.cicd_instance_id",
				DependsOn: []JoinId{jobsJoin},
			},
		},
		attributes: []*AttributeDescriptor{
			{Attribute: "job_name", Column: "jobs.job_name", Kind: Scalar, Join: jobsJoin},
			{Attribute: "job_normalized_full_name", Column: "jobs.job_normalized_full_name", Kind: Scalar, Join: jobsJoin},
			{Attribute: "project_name", Column: "jobs.project_name", Kind: Scalar, Join: jobsJoin},
			{Attribute: "job_status", Column: "r.status", Kind: Scalar},
			{Attribute: "cicd_user", Column: "r.cicd_user_id", Kind: Scalar, OrgUnitFamily: model.CicdUserFamily},
			{Attribute: "instance_name", Column: "instances.name", Kind: Scalar, Join: instancesJoin},
			{Attribute: "instance_type", Column: "instances.type", Kind: Scalar, Join: instancesJoin},
			{Attribute: "integration_id", Column: "instances.integration_id", Kind: Scalar, Join: instancesJoin},
			{Attribute: "start_time", Column: "r.start_time", Kind: Timestamp},
			{Attribute: "end_time", Column: "r.end_time", Kind: Timestamp},
			{Attribute: "duration", Column: "r.duration", Kind: Numeric},
		},
		dimensions: []*DimensionDescriptor{
			{Dimension: JobName, KeyExpr: "jobs.job_name", Joins: []JoinId{jobsJoin}, PinAttribute: "job_name"},
			{
				Dimension:         QualifiedJobName,
				KeyExpr:           "jobs.job_name",
				SecondaryKeyExpr:  "instances.name",
				NeedsSecondaryKey: true,
				Joins:             []JoinId{instancesJoin},
				PinQualifiedName:  true,
			},
			{Dimension: JobProjectName, KeyExpr: "jobs.project_name", Joins: []JoinId{jobsJoin}, PinAttribute: "project_name"},
			{Dimension: JobStatus, KeyExpr: "r.status", PinAttribute: "job_status"},
			{Dimension: CicdUser, KeyExpr: "r.cicd_user_id", PinAttribute: "cicd_user"},
			{Dimension: InstanceName, KeyExpr: "instances.name", Joins: []JoinId{instancesJoin}, PinAttribute: "instance_name"},
			{Dimension: JobTrend, TimeAttribute: "start_time"},
			{Dimension: JobEnd, TimeAttribute: "end_time"},
		},
		calculations: []*CalculationDescriptor{
			valueCalculation(model.DurationCalculation, "r.duration"),
		},
		qualifiedNames: &QualifiedNameColumns{
			Instance: "instances.name",
			Job:      "jobs.job_name",
			Joins:    []JoinId{instancesJoin},
		},
	})
}
