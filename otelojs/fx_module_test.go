package otelojs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	ojs "github.com/openjobspec/ojs-otel-go"
	"github.com/openjobspec/ojs-otel-go/ojstesting"
	"github.com/openjobspec/ojs-otel-go/otelojs"
)

func TestFXModuleInstrumentsForAppLifetime(t *testing.T) {
	hooks := ojs.NewHookTable()
	tp, recorder := ojstesting.NewTracerProvider(t)
	var inst *otelojs.Instrumentor

	app := fxtest.New(t,
		otelojs.FXModule,
		fx.Provide(func() trace.TracerProvider { return tp }),
		fx.Provide(func() *ojs.HookTable { return hooks }),
		fx.Populate(&inst),
	)

	app.RequireStart()
	require.NotNil(t, inst)
	assert.True(t, inst.Instrumented())

	client, err := ojs.NewClient(ojstesting.NewBroker(), ojs.WithClientHooks(hooks))
	require.NoError(t, err)
	_, err = client.Enqueue(context.Background(), "email.send", nil)
	require.NoError(t, err)
	assert.Len(t, ojstesting.SpansNamed(recorder, "publish default"), 1)

	app.RequireStop()
	assert.False(t, inst.Instrumented())
	for _, p := range ojs.HookPoints() {
		assert.False(t, hooks.Wrapped(p), "hook %s still wrapped", p)
	}
}

func TestFXModuleWithoutDependencies(t *testing.T) {
	var inst *otelojs.Instrumentor

	// Nothing provided: the global provider and ojs.DefaultHooks are used.
	app := fxtest.New(t,
		otelojs.FXModule,
		fx.Populate(&inst),
	)

	app.RequireStart()
	assert.True(t, inst.Instrumented())
	app.RequireStop()
	assert.False(t, ojs.DefaultHooks.Wrapped(ojs.HookEnqueueJob))
}

func TestRegisterInstrumentorLifecycleFailsOnConflict(t *testing.T) {
	hooks := ojs.NewHookTable()
	require.NoError(t, hooks.Wrap(ojs.HookEnqueueJob, func(ctx context.Context, call ojs.Call, next ojs.CallFunc) (any, error) {
		return next(ctx, call)
	}))
	inst := otelojs.New(otelojs.WithHookTable(hooks))

	app := fx.New(
		fx.NopLogger,
		fx.Provide(func() *otelojs.Instrumentor { return inst }),
		fx.Invoke(otelojs.RegisterInstrumentorLifecycle),
	)
	err := app.Start(context.Background())
	require.ErrorIs(t, err, ojs.ErrHookWrapped)
	assert.False(t, inst.Instrumented())
}
