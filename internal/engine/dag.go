package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Actionrun/internal/domain"
)

// Node — узел в DAG зависимостей плана.
type Node struct {
	// Step — определение шага из плана.
	Step *domain.Step

	// ID — имя шага.
	ID string

	// Stage — имя стадии шага.
	Stage string

	// StageIndex — порядковый номер стадии (с нуля).
	StageIndex int

	// InDegree — количество входящих рёбер (известных зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — граф зависимостей шагов плана.
//
// В отличие от исполнителя, граф не блокирует выполнение: он нужен
// для статического анализа плана до запуска (lint).
type DAG struct {
	// Nodes — все узлы графа (имя шага → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей.
	RootNodes []*Node

	// Order — топологический порядок. Узлы, входящие в цикл, отсутствуют.
	Order []*Node
}

// BuildDAG строит граф из плана.
//
// Зависимости на несуществующие шаги пропускаются: их находит Analyze.
// Если имя шага встречается дважды, в граф попадает первый шаг.
func BuildDAG(plan *domain.ActionPlan) *DAG {
	dag := &DAG{
		Nodes:     make(map[string]*Node),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for si := range plan.Stages {
		stage := &plan.Stages[si]
		for i := range stage.Steps {
			step := &stage.Steps[i]
			if _, exists := dag.Nodes[step.Name]; exists {
				continue
			}
			dag.Nodes[step.Name] = &Node{
				Step:       step,
				ID:         step.Name,
				Stage:      stage.Name,
				StageIndex: si,
				DependsOn:  make([]*Node, 0),
				Dependents: make([]*Node, 0),
			}
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for _, node := range dag.Nodes {
		for _, depID := range node.Step.DependsOn {
			if depNode, exists := dag.Nodes[depID]; exists {
				dag.addEdge(depNode, node)
			}
		}
	}

	dag.findRootNodes()
	dag.Order = dag.topologicalSort()

	return dag
}

// addEdge добавляет ребро между узлами.
// Повторная зависимость не увеличивает InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
// Порядок стабилен: по стадии, затем по имени.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.Nodes {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
	sortNodes(d.RootNodes)
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Узлы, которые не удалось упорядочить, лежат на цикле или зависят от него.
func (d *DAG) topologicalSort() []*Node {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return order
}

// GetNode возвращает узел по имени шага.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// Unordered возвращает узлы, не попавшие в топологический порядок.
func (d *DAG) Unordered() []*Node {
	ordered := make(map[string]bool, len(d.Order))
	for _, node := range d.Order {
		ordered[node.ID] = true
	}

	nodes := make([]*Node, 0)
	for id, node := range d.Nodes {
		if !ordered[id] {
			nodes = append(nodes, node)
		}
	}
	sortNodes(nodes)
	return nodes
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].StageIndex != nodes[j].StageIndex {
			return nodes[i].StageIndex < nodes[j].StageIndex
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// IssueKind — тип проблемы, найденной анализом.
type IssueKind string

const (
	// IssueDanglingDependency — зависимость на шаг, которого нет в плане.
	IssueDanglingDependency IssueKind = "dangling_dependency"

	// IssueLaterStageDependency — зависимость на шаг более поздней стадии.
	IssueLaterStageDependency IssueKind = "later_stage_dependency"

	// IssueCycle — шаг лежит на цикле зависимостей или ждёт такой шаг.
	IssueCycle IssueKind = "cycle"
)

// Issue — проблема плана, из-за которой шаг никогда не стартует.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Stage      string    `json:"stage"`
	Step       string    `json:"step"`
	Dependency string    `json:"dependency,omitempty"`
	Message    string    `json:"message"`
}

// Report — результат статического анализа плана.
type Report struct {
	// Issues — найденные проблемы. Пустой список — план выполнится целиком.
	Issues []Issue `json:"issues"`

	// Order — имена шагов в топологическом порядке.
	Order []string `json:"order"`
}

// OK возвращает true, если проблем не найдено.
func (r *Report) OK() bool {
	return len(r.Issues) == 0
}

// Analyze ищет шаги, которые исполнитель будет ждать вечно.
//
// Находит:
// - Зависимости на несуществующие шаги
// - Зависимости на шаги более поздних стадий (стадия не закончится,
//   пока ждущий шаг не завершится, а следующая стадия не начнётся)
// - Циклы зависимостей
//
// Результат носит предупредительный характер: исполнитель запускает
// такие планы как есть.
func Analyze(plan *domain.ActionPlan) *Report {
	dag := BuildDAG(plan)
	report := &Report{
		Issues: make([]Issue, 0),
		Order:  make([]string, 0, len(dag.Order)),
	}

	for _, node := range dag.Order {
		report.Order = append(report.Order, node.ID)
	}

	for si, stage := range plan.Stages {
		for _, step := range stage.Steps {
			for _, dep := range step.DependsOn {
				depNode, exists := dag.Nodes[dep]
				switch {
				case !exists:
					report.Issues = append(report.Issues, Issue{
						Kind:       IssueDanglingDependency,
						Stage:      stage.Name,
						Step:       step.Name,
						Dependency: dep,
						Message:    fmt.Sprintf("depends on unknown step: %s", dep),
					})
				case depNode.StageIndex > si:
					report.Issues = append(report.Issues, Issue{
						Kind:       IssueLaterStageDependency,
						Stage:      stage.Name,
						Step:       step.Name,
						Dependency: dep,
						Message: fmt.Sprintf("depends on step %s of later stage %s",
							dep, depNode.Stage),
					})
				}
			}
		}
	}

	for _, node := range dag.Unordered() {
		report.Issues = append(report.Issues, Issue{
			Kind:    IssueCycle,
			Stage:   node.Stage,
			Step:    node.ID,
			Message: "step is part of a dependency cycle or waits for one",
		})
	}

	return report
}
