package exchange

import (
	"context"
	"fmt"

	"github.com/notargets/gocfd/utils"
)

// Outlet sends one field through a Source
type Outlet struct {
	source   *Source
	state    FieldState
	field    Field
	category Category
	conv     Converter // nil when the sending side works in internal units
}

// NewOutlet binds field of state to source. A non-nil conv converts values to
// physical units before they leave.
func NewOutlet(source *Source, state FieldState, field Field, category Category, conv Converter) *Outlet {
	return &Outlet{source: source, state: state, field: field, category: category, conv: conv}
}

// Send interpolates the current field at the source points and sends it to the sink
func (o *Outlet) Send(ctx context.Context) error {
	ncomp := o.field.Components(o.source.local.Dim)
	values, err := o.source.Interpolate(o.state.BoundaryState(o.field), ncomp)
	if err != nil {
		return fmt.Errorf("%s outlet: %w", o.category, err)
	}
	if o.conv != nil {
		values = o.conv.ToPhysical(o.field, values)
	}
	return o.source.comm.Send(ctx, o.source.sinkRank, o.category.Tag(), values)
}

// Inlet receives one field through a Sink and imposes it on the local solver.
type Inlet struct {
	sink     *Sink
	state    FieldState
	field    Field
	category Category
	conv     Converter // nil when the receiving side works in internal units
}

// NewInlet binds field of state to sink. A non-nil conv converts arriving values
// to internal units when imposed.
func NewInlet(sink *Sink, state FieldState, field Field, category Category, conv Converter) *Inlet {
	return &Inlet{sink: sink, state: state, field: field, category: category, conv: conv}
}

func (in *Inlet) ncomp() int { return in.field.Components(in.sink.Dim()) }

// Recv blocks until every source has delivered the field
func (in *Inlet) Recv(ctx context.Context) error {
	if err := in.sink.Recv(ctx, in.category, in.ncomp()); err != nil {
		return fmt.Errorf("%s inlet: %w", in.category, err)
	}
	return nil
}

// Impose writes the last received values into the solver. The receive buffer is
// never modified, so repeated calls impose identical values.
func (in *Inlet) Impose() error {
	values := in.sink.Values()
	if values == nil {
		return nil
	}
	return in.apply(values)
}

func (in *Inlet) apply(values []float64) error {
	if in.conv != nil {
		values = in.conv.ToInternal(in.field, values)
	}
	return in.state.ApplyBoundaryState(in.field, in.sink.Nodes(), values)
}

// Sink returns the bound sink
func (in *Inlet) Sink() *Sink { return in.sink }

// VInlet is a velocity Inlet that interpolates in time between the previous and
// the latest received states over one coarse interval.
type VInlet struct {
	*Inlet
	old        utils.Matrix
	hasOld     bool
	fgeT, cgeT float64
}

// NewVInlet binds velocity of state to sink
func NewVInlet(sink *Sink, state FieldState, conv Converter) *VInlet {
	return &VInlet{Inlet: NewInlet(sink, state, Velocity, VelocityBoundary, conv)}
}

// StoreOld keeps the current state as the start of the next interval
func (v *VInlet) StoreOld() {
	values := v.sink.Values()
	if values == nil {
		return
	}
	v.old = utils.NewMatrix(v.sink.Len(), v.ncomp(), values)
	v.hasOld = true
}

// Inherit takes the latest state of prev, the inlet this one replaces after a
// geometry rebuild, as the start of the next interval when the point sets agree.
func (v *VInlet) Inherit(prev *VInlet) {
	if prev == nil {
		return
	}
	values := prev.sink.Values()
	if values == nil || len(values) != v.sink.Len()*v.ncomp() || v.sink.Len() == 0 {
		return
	}
	v.old = utils.NewMatrix(v.sink.Len(), v.ncomp(), values)
	v.hasOld = true
}

// SetTimes records elapsed fine time fgeT into the coarse interval cgeT
func (v *VInlet) SetTimes(fgeT, cgeT float64) {
	v.fgeT, v.cgeT = fgeT, cgeT
}

// Recv receives the end state of the interval. Without a usable start state
// (first interval, or the point set changed) the start equals the end.
func (v *VInlet) Recv(ctx context.Context) error {
	if err := v.Inlet.Recv(ctx); err != nil {
		return err
	}
	if !v.hasOld || len(v.old.Data()) != v.sink.Len()*v.ncomp() {
		v.hasOld = false
		v.StoreOld()
	}
	return nil
}

// Impose writes old + (new-old)*fgeT/cgeT
func (v *VInlet) Impose() error {
	values := v.sink.Values()
	if values == nil {
		return nil
	}
	cur := utils.NewMatrix(v.sink.Len(), v.ncomp(), values)
	if v.hasOld && v.cgeT > 0 {
		cur.Subtract(v.old).Scale(v.fgeT / v.cgeT).Add(v.old)
	}
	return v.apply(cur.Data())
}
