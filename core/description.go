package core

import (
	"fmt"
	"slices"
)

// Description identifies a work item: a display name, a unique key, and whether
// it is a suite aggregate or a leaf test. Descriptions are immutable.
type Description struct {
	displayName string
	uniqueID    string
	suite       bool
	children    []*Description
}

// TestMechanism is the pseudo-description that listener failures are
// attributed to.
var TestMechanism = ForName("Test mechanism").CreateTestDescription()

// DescriptionBuilder assembles a Description.
type DescriptionBuilder struct {
	displayName string
	uniqueID    string
}

// ForName starts a builder whose display name and unique ID are both name.
func ForName(name string) *DescriptionBuilder {
	return &DescriptionBuilder{displayName: name, uniqueID: name}
}

// WithUniqueID overrides the unique ID.
func (b *DescriptionBuilder) WithUniqueID(id string) *DescriptionBuilder {
	b.uniqueID = id
	return b
}

// WithDisplayName overrides the display name.
func (b *DescriptionBuilder) WithDisplayName(name string) *DescriptionBuilder {
	b.displayName = name
	return b
}

// CreateSuiteDescription returns a suite description owning children in order.
func (b *DescriptionBuilder) CreateSuiteDescription(children ...*Description) *Description {
	return &Description{
		displayName: b.displayName,
		uniqueID:    b.uniqueID,
		suite:       true,
		children:    slices.Clone(children),
	}
}

// CreateTestDescription returns a leaf test description.
func (b *DescriptionBuilder) CreateTestDescription() *Description {
	return &Description{
		displayName: b.displayName,
		uniqueID:    b.uniqueID,
	}
}

// NewTestDescription returns the description of method in className,
// displayed as "method(className)".
func NewTestDescription(className, method string) *Description {
	return ForName(fmt.Sprintf("%s(%s)", method, className)).CreateTestDescription()
}

func (d *Description) DisplayName() string { return d.displayName }
func (d *Description) UniqueID() string    { return d.uniqueID }
func (d *Description) IsSuite() bool       { return d.suite }
func (d *Description) IsTest() bool        { return !d.suite }

// Children returns a copy of the child descriptions.
func (d *Description) Children() []*Description {
	return slices.Clone(d.children)
}

// TestCount returns the number of leaf tests below d, or 1 for a test.
func (d *Description) TestCount() int {
	if d.IsTest() {
		return 1
	}
	n := 0
	for _, c := range d.children {
		n += c.TestCount()
	}
	return n
}

// Equal compares unique IDs.
func (d *Description) Equal(other *Description) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.uniqueID == other.uniqueID
}

func (d *Description) String() string {
	if d == nil {
		return "<nil>"
	}
	return d.displayName
}
