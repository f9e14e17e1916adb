package clustering

import (
	"math"
	"sort"
)

// hdbscanLabels 对向量集合做密度聚类，返回每个点的标签，-1 为噪声。
//
// 流程：核心距离 → 互达距离 → 最小生成树 → 单链接层级 →
// 凝缩树（min_cluster_size）→ excess-of-mass 选择 →
// cluster_selection_epsilon 合并。
func hdbscanLabels(vectors [][]float64, minClusterSize, minSamples int, epsilon float64) []int {
	n := len(vectors)
	labels := make([]int, n)

	// 全部重合的输入没有可分的密度结构：
	// 数量达到簇规模就是一个完美稠密簇，否则全是噪声。
	dist := distanceMatrix(vectors)
	if allZero(dist) {
		fill := -1
		if n >= minClusterSize {
			fill = 0
		}
		for i := range labels {
			labels[i] = fill
		}
		return labels
	}

	core := coreDistances(dist, minSamples)
	mreach := mutualReachability(dist, core)
	edges := minimumSpanningTree(mreach)
	nodes := buildDendrogram(n, edges)
	tree := condenseTree(nodes, n, minClusterSize)
	selected := selectClusters(tree, n, epsilon)

	for i := range labels {
		labels[i] = -1
	}
	// 被选簇按凝缩节点 id 升序编号，保证标签确定性
	ids := make([]int, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for label, id := range ids {
		for _, p := range tree.pointsOf(id) {
			labels[p] = label
		}
	}
	return labels
}

func distanceMatrix(vectors [][]float64) [][]float64 {
	n := len(vectors)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := euclidean(vectors[i], vectors[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func allZero(dist [][]float64) bool {
	for i := range dist {
		for _, d := range dist[i] {
			if d != 0 {
				return false
			}
		}
	}
	return true
}

// coreDistances 返回每个点到其第 minSamples 近邻的距离（含自身）。
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	k := minSamples
	if k > n {
		k = n
	}
	core := make([]float64, n)
	row := make([]float64, n)
	for i := 0; i < n; i++ {
		copy(row, dist[i])
		sort.Float64s(row)
		core[i] = row[k-1]
	}
	return core
}

func mutualReachability(dist [][]float64, core []float64) [][]float64 {
	n := len(dist)
	mreach := make([][]float64, n)
	for i := range mreach {
		mreach[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			mreach[i][j] = math.Max(dist[i][j], math.Max(core[i], core[j]))
		}
	}
	return mreach
}

type mstEdge struct {
	a, b   int
	weight float64
}

// minimumSpanningTree 在互达距离图上跑 Prim，O(n²)。
func minimumSpanningTree(mreach [][]float64) []mstEdge {
	n := len(mreach)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next := -1
		for v := 0; v < n; v++ {
			if inTree[v] {
				continue
			}
			if w := mreach[current][v]; w < best[v] {
				best[v] = w
				from[v] = current
			}
			if next < 0 || best[v] < best[next] {
				next = v
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, weight: best[next]})
		current = next
	}
	return edges
}

// hierNode 是单链接层级中的一个节点。叶子为 0..n-1，内部节点从 n 起。
type hierNode struct {
	left, right int
	weight      float64
	size        int
}

// buildDendrogram 按边权升序合并连通分量，生成单链接层级。
func buildDendrogram(n int, edges []mstEdge) []hierNode {
	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	nodes := make([]hierNode, 2*n-1)
	parent := make([]int, 2*n-1)
	for i := 0; i < n; i++ {
		nodes[i] = hierNode{left: -1, right: -1, size: 1}
	}
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	next := n
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		nodes[next] = hierNode{
			left:   ra,
			right:  rb,
			weight: e.weight,
			size:   nodes[ra].size + nodes[rb].size,
		}
		parent[ra] = next
		parent[rb] = next
		next++
	}
	return nodes
}

// condensedEdge 连接凝缩树中的父簇与子节点；child < n 时是单个点。
type condensedEdge struct {
	parent, child int
	lambda        float64
	size          int
}

type condensedTree struct {
	n     int
	root  int
	edges []condensedEdge
	// birth[c] 是簇 c 诞生时的 lambda（root 为 0）
	birth map[int]float64
	// children[c] 是簇 c 的子簇
	children map[int][]int
	parentOf map[int]int
}

// condenseTree 自顶向下遍历层级：双侧都不小于 minClusterSize 的分裂
// 产生新簇，小侧的点以当前 lambda 脱落回父簇。
func condenseTree(nodes []hierNode, n, minClusterSize int) *condensedTree {
	tree := &condensedTree{
		n:        n,
		root:     n,
		birth:    map[int]float64{n: 0},
		children: make(map[int][]int),
		parentOf: make(map[int]int),
	}
	nextID := n + 1

	type frame struct {
		hier, cluster int
	}
	stack := []frame{{hier: 2*n - 2, cluster: n}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := nodes[f.hier]
		lambda := math.Inf(1)
		if node.weight > 0 {
			lambda = 1 / node.weight
		}

		l, r := node.left, node.right
		ls, rs := nodes[l].size, nodes[r].size
		switch {
		case ls >= minClusterSize && rs >= minClusterSize:
			for _, child := range []int{l, r} {
				id := nextID
				nextID++
				tree.edges = append(tree.edges, condensedEdge{
					parent: f.cluster, child: id, lambda: lambda, size: nodes[child].size,
				})
				tree.birth[id] = lambda
				tree.children[f.cluster] = append(tree.children[f.cluster], id)
				tree.parentOf[id] = f.cluster
				stack = append(stack, frame{hier: child, cluster: id})
			}
		case ls < minClusterSize && rs < minClusterSize:
			for _, p := range leavesUnder(nodes, l) {
				tree.edges = append(tree.edges, condensedEdge{parent: f.cluster, child: p, lambda: lambda, size: 1})
			}
			for _, p := range leavesUnder(nodes, r) {
				tree.edges = append(tree.edges, condensedEdge{parent: f.cluster, child: p, lambda: lambda, size: 1})
			}
		default:
			keep, drop := l, r
			if rs >= minClusterSize {
				keep, drop = r, l
			}
			for _, p := range leavesUnder(nodes, drop) {
				tree.edges = append(tree.edges, condensedEdge{parent: f.cluster, child: p, lambda: lambda, size: 1})
			}
			stack = append(stack, frame{hier: keep, cluster: f.cluster})
		}
	}
	return tree
}

func leavesUnder(nodes []hierNode, root int) []int {
	if nodes[root].left < 0 {
		return []int{root}
	}
	var leaves []int
	stack := []int{root}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if nodes[x].left < 0 {
			leaves = append(leaves, x)
			continue
		}
		stack = append(stack, nodes[x].left, nodes[x].right)
	}
	return leaves
}

// pointsOf 返回簇 id 在凝缩树中覆盖的全部点。
func (t *condensedTree) pointsOf(id int) []int {
	var points []int
	stack := []int{id}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range t.edges {
			if e.parent != c {
				continue
			}
			if e.child < t.n {
				points = append(points, e.child)
			} else {
				stack = append(stack, e.child)
			}
		}
	}
	return points
}

// descendantsOf 返回簇 id 的全部后代簇。
func (t *condensedTree) descendantsOf(id int) []int {
	var out []int
	stack := append([]int(nil), t.children[id]...)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, c)
		stack = append(stack, t.children[c]...)
	}
	return out
}

// stabilitySub 处理重合点导致的无穷 lambda：inf − inf 记 0。
func stabilitySub(lambda, birth float64) float64 {
	if math.IsInf(lambda, 1) && math.IsInf(birth, 1) {
		return 0
	}
	return lambda - birth
}

// selectClusters 自底向上做 excess-of-mass 选择，再按
// epsilon 合并出生距离过细的簇。root 不参与选择。
func selectClusters(tree *condensedTree, n int, epsilon float64) map[int]bool {
	// 每个簇的稳定性：所属点脱落时的 lambda 超出出生 lambda 的部分之和
	stability := make(map[int]float64)
	maxID := tree.root
	for _, e := range tree.edges {
		stability[e.parent] += stabilitySub(e.lambda, tree.birth[e.parent]) * float64(e.size)
		if e.child > maxID {
			maxID = e.child
		}
	}

	selected := make(map[int]bool)
	for id := range tree.birth {
		if id != tree.root {
			selected[id] = true
		}
	}

	// 深簇 id 更大，倒序遍历即自底向上
	for id := maxID; id > tree.root; id-- {
		children := tree.children[id]
		if len(children) == 0 {
			continue
		}
		var childSum float64
		for _, c := range children {
			childSum += stability[c]
		}
		if childSum > stability[id] {
			stability[id] = childSum
			selected[id] = false
		} else {
			selected[id] = true
			for _, d := range tree.descendantsOf(id) {
				selected[d] = false
			}
		}
	}

	result := make(map[int]bool)
	for id, ok := range selected {
		if ok {
			result[id] = true
		}
	}
	if epsilon > 0 {
		result = mergeByEpsilon(tree, result, epsilon)
	}
	return result
}

// mergeByEpsilon 把出生距离小于 epsilon 的簇向上并到
// 第一个出生距离不小于 epsilon 的祖先。
func mergeByEpsilon(tree *condensedTree, selected map[int]bool, epsilon float64) map[int]bool {
	merged := make(map[int]bool)
	for id := range selected {
		c := id
		for c != tree.root && birthDistance(tree, c) < epsilon {
			p := tree.parentOf[c]
			if p == tree.root {
				break
			}
			c = p
		}
		merged[c] = true
	}

	// 合并后保持反链：去掉还有被选祖先的簇
	result := make(map[int]bool)
	for id := range merged {
		covered := false
		for p, ok := tree.parentOf[id]; ok; p, ok = tree.parentOf[p] {
			if merged[p] {
				covered = true
				break
			}
		}
		if !covered {
			result[id] = true
		}
	}
	return result
}

// birthDistance 是簇诞生时的分裂距离（lambda 的倒数）。
func birthDistance(tree *condensedTree, id int) float64 {
	lambda := tree.birth[id]
	if math.IsInf(lambda, 1) {
		return 0
	}
	if lambda == 0 {
		return math.Inf(1)
	}
	return 1 / lambda
}
