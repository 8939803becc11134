package cob

// NewCoreRegistry builds a Registry with every COB type that does not
// need the identity layer (issue, patch, job). The caller additionally
// registers pkg/identity's revision type, since that type closes a
// dependency from cob -> identity that this package cannot take itself.
func NewCoreRegistry() *Registry {
	r := NewRegistry()
	r.Register(IssueType, IssueSpec())
	r.Register(PatchType, PatchSpec())
	r.Register(JobType, JobSpec())
	return r
}
