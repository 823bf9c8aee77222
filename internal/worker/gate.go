package worker

import (
	"context"
	"time"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/telemetry"
)

// awaitDependencies — гейт зависимостей шага.
//
// Блокируется, пока каждое имя из dependsOn не окажется в реестре.
// Пустой список проходит сразу. Имя, которое никогда не будет отмечено,
// блокирует шаг навсегда: таймаута и детектора дедлоков нет.
func (e *Executor) awaitDependencies(ctx context.Context, reg *CompletionRegistry, stage string, step domain.Step) error {
	dependsOn := step.DependsOn
	if len(dependsOn) == 0 {
		return nil
	}

	start := time.Now()
	if missing := reg.Missing(dependsOn); len(missing) > 0 {
		e.log(ctx).Debug("step waiting for dependencies",
			"stage", stage,
			"step", step.Name,
			"missing", missing,
		)
	}

	if err := reg.WaitFor(ctx, dependsOn); err != nil {
		return err
	}

	telemetry.GateWait.Observe(time.Since(start).Seconds())
	return nil
}
